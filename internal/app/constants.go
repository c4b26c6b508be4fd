package app

const (
	Name           = "koradgo"
	SourceURL      = "https://git.skobk.in/skobkin/koradgo"
	ConfigFilename = "config.yaml"
	DBFilename     = "readings.db"
	LogFilename    = "koradgo.log"
)
