package main

import "realestate-crawler/cli"

func main() {
	cli.Execute()
}
