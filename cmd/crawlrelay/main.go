// Package main is the entry point for the crawl-relay binary.
package main

import "github.com/crawlstream/crawl-relay/cmd"

func main() {
	cmd.Execute()
}
