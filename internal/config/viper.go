package config

import (
	"github.com/spf13/viper"
)

// ViperSource adapts a viper instance so bound flags, env and config files feed Load.
type ViperSource struct {
	v *viper.Viper
}

func NewViperSource(v *viper.Viper) ViperSource {
	v.AutomaticEnv()
	return ViperSource{v: v}
}

func (s ViperSource) Lookup(key string) (string, bool) {
	if !s.v.IsSet(key) {
		return "", false
	}
	return s.v.GetString(key), true
}
