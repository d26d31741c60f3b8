package main

import "github.com/oarkflow/permit/cmd/permit/cmd"

func main() {
	cmd.Execute()
}
