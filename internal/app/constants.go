package app

const (
	Name           = "devlink"
	ConfigFilename = "config.json"
	LogFilename    = "devlink.log"
)
