package app

import (
	logx "newspush/pkg/logx"
)

// ---- Logging ----

type logConfig = logx.Config

type logFileConfig = logx.FileConfig

type logAlertConfig = logx.AlertConfig
