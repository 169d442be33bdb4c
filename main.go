package main

import "github.com/audiolibrelab/shabadfinder/cmd"

func main() {
	cmd.Execute()
}
