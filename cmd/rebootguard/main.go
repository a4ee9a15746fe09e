// Command rebootguard guards a host's reboot call chains and replaces
// user-requested reboots with a privileged restart action.
package main

import "github.com/HerbHall/rebootguard/internal/cli"

func main() {
	cli.Execute()
}
