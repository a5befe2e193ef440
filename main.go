// Command plexus is the entry point for the gateway's CLI: start/stop/status
// the server process and manage its configuration.
package main

import "github.com/Davincible/plexus/cmd"

func main() {
	cmd.Execute()
}
