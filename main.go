package main

import "github.com/CriticalRange/arula-go/cmd"

func main() {
	cmd.Execute()
}
