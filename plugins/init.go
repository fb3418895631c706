// Package plugins registers all built-in plugins.
package plugins

import (
	"firestige.xyz/otrace/pkg/plugin"
	"firestige.xyz/otrace/plugins/reporter/console"
	"firestige.xyz/otrace/plugins/reporter/file"
	"firestige.xyz/otrace/plugins/reporter/kafka"
	reporterlog "firestige.xyz/otrace/plugins/reporter/log"
	"firestige.xyz/otrace/plugins/reporter/udp"
)

func init() {
	// Register reporter plugins
	plugin.RegisterReporter("console", console.NewConsoleReporter)
	plugin.RegisterReporter("log", reporterlog.NewLogReporter)
	plugin.RegisterReporter("file", file.NewFileReporter)
	plugin.RegisterReporter("kafka", kafka.NewKafkaReporter)
	plugin.RegisterReporter("udp", udp.NewUDPReporter)
}
