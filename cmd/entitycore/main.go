// Package main is the entitycore command line: it validates schema
// directories and reads and writes entities through the mapping service.
package main

func main() {
	Execute()
}
