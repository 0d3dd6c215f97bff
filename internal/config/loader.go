package config

import "os"

// EnvFileVariable points the dev build at a specific dotenv file.
const EnvFileVariable = "BUNDLERELAY_ENV_FILE"

// LoadFromEnv reads the relay configuration from the process environment.
// Builds tagged dev first merge dotenv files into the environment.
func LoadFromEnv() (Config, error) {
	if err := loadDotEnv(dotEnvFiles(os.Getenv(EnvFileVariable))); err != nil {
		return Config{}, err
	}
	return Load(FromEnviron())
}

// dotEnvFiles lists candidate files, highest precedence first.
func dotEnvFiles(explicit string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	return []string{".env.local", ".env"}
}
