package web

import (
	"pixpack-go/internal/job"
	"pixpack-go/internal/relay"
)

// wsObserver streams job events to every connected WebSocket client.
type wsObserver struct {
	s *Server
}

func (s *Server) observer() relay.Observer {
	return wsObserver{s: s}
}

func (o wsObserver) OnProgress(percent int) {
	o.s.broadcastWSMessage(MessageProgress, percent)
}

func (o wsObserver) OnLog(line string) {
	o.s.broadcastWSMessage(MessageLog, line)
}

func (o wsObserver) OnComplete(result job.Result) {
	o.s.resultMutex.Lock()
	o.s.lastResult = &result
	o.s.resultMutex.Unlock()

	o.s.broadcastWSMessage(MessageComplete, result)
}
