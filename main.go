package main

import "golang-wifiprov/cmd"

func main() {
	cmd.Execute()
}
