package discovery

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/MrSnakeDoc/discoveryd/internal/logger"
)

// integrityViolation reports a state that correct code never produces. Builds
// tagged discoverydebug panic; other builds log at error level and the caller
// skips the offending operation.
func integrityViolation(log logger.Logger, msg string, fields ...zap.Field) {
	if panicOnIntegrity {
		panic(fmt.Sprintf("discovery integrity violation: %s", msg))
	}
	log.Error("integrity violation: "+msg, fields...)
}
