package main

import "github.com/MeKo-Tech/pedigree/cmd/pedigree/cmd"

func main() {
	cmd.Execute()
}
