package config

type EnvVars struct {
	AppName string `env:"APP_NAME" envDefault:"Go Auth Session"`
	Folder  string `env:"FOLDER" envDefault:"./data"`
	Env     string `env:"ENV" envDefault:"DEV"`
	Logging bool   `env:"AUTH_LOGGING" envDefault:"false"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetDataFolder() string {
	return e.Folder
}

func (e EnvVars) GetEnv() string {
	return e.Env
}

func (e EnvVars) GetLoggingEnabled() bool {
	return e.Logging
}
