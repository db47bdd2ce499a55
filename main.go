package main

import "github.com/smallld/smallld/cmd/statld"

func main() {
	statld.Execute()
}
