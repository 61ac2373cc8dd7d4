package main

import "ratecheck/cmd"

func main() {
	cmd.Execute()
}
