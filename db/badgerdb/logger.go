package badgerdb

import (
	"fmt"
	"strings"

	"github.com/phat-tools/cluster-deployer/log"
)

// extendedLog lets badger write through the module logger.
type extendedLog struct {
	*log.Logger
}

func (l *extendedLog) Errorf(f string, v ...interface{}) {
	l.Error().Msg(trimMsg(f, v))
}

func (l *extendedLog) Warningf(f string, v ...interface{}) {
	l.Warn().Msg(trimMsg(f, v))
}

func (l *extendedLog) Infof(f string, v ...interface{}) {
	// badger is chatty at info
	l.Debug().Msg(trimMsg(f, v))
}

func (l *extendedLog) Debugf(f string, v ...interface{}) {
	l.Debug().Msg(trimMsg(f, v))
}

func trimMsg(f string, v []interface{}) string {
	return strings.TrimRight(fmt.Sprintf(f, v...), "\n")
}
