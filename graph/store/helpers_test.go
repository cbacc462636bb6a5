package store

import "github.com/agentsubstrate/orchestrator-go/graph/emit"

func eventFixture(runID, msg string) emit.Event {
	return emit.Event{RunID: runID, Msg: msg}
}
