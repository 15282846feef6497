package main

import "github.com/epo-tools/epoparquet/cmd"

func main() {
	cmd.Execute()
}
