// rosterctl drives customer roster imports from the command line: staging,
// committing and rolling back batches against the same store the service
// uses. Intended for operators and for seeding test environments.
package main

func main() {
	execute()
}
