package debugger

import (
	"bytes"
	"encoding/json"

	"go.uber.org/zap"
)

// DebugPrintJSON logs v as indented JSON at debug level. It is meant for
// local runs; encoding failures are logged, never returned.
func DebugPrintJSON(logger *zap.Logger, msg string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		logger.Warn("Failed to encode debug payload", zap.String("msg", msg), zap.Error(err))
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		logger.Debug(msg, zap.ByteString("payload", raw))
		return
	}
	logger.Debug(msg, zap.String("payload", pretty.String()))
}
