// Package autoload initializes the global logger from the LOG_ env prefix
// as a side effect of being imported.
package autoload

import (
	configx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/pkg/config"
	logx "github.com/tanpawarit/Xelora-Customer-Journey-Agent/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}
