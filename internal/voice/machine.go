package voice

// Playback runs Idle -> Speaking(chunk 0..n-1) -> Idle. step is a pure
// function from (state, event) to (state, side effects); Player executes the
// effects.

type phase int

const (
	phaseIdle phase = iota
	phaseSpeaking
)

type machine struct {
	phase     phase
	session   uint64
	messageID string
	chunks    []string
	index     int
}

type eventKind int

const (
	evPlay eventKind = iota
	evCancel
	evIssue
	evStart
	evEnd
	evError
	evUnavailable
)

type event struct {
	kind      eventKind
	session   uint64
	index     int
	messageID string
	chunks    []string
}

type commandKind int

const (
	cmdStopTimer commandKind = iota
	cmdCancelEngine
	cmdArm
	cmdSpeak
	cmdPublish
	cmdCount
)

type command struct {
	kind    commandKind
	session uint64
	index   int
	text    string
	state   PlaybackState
	label   string
}

func step(m machine, e event) (machine, []command) {
	switch e.kind {
	case evPlay:
		cmds := []command{
			{kind: cmdStopTimer},
			{kind: cmdCancelEngine},
			{kind: cmdPublish, state: idleState()},
		}
		next := machine{session: m.session + 1}
		if len(e.chunks) == 0 {
			return next, cmds
		}
		next.phase = phaseSpeaking
		next.messageID = e.messageID
		next.chunks = e.chunks
		next.index = 0
		cmds = append(cmds,
			command{kind: cmdCount, label: "play"},
			command{kind: cmdArm, session: next.session, index: 0},
		)
		return next, cmds

	case evCancel:
		cmds := []command{
			{kind: cmdStopTimer},
			{kind: cmdCancelEngine},
			{kind: cmdPublish, state: idleState()},
		}
		if m.phase == phaseSpeaking {
			cmds = append(cmds, command{kind: cmdCount, label: "cancel"})
		}
		return machine{session: m.session + 1}, cmds
	}

	if !m.current(e) {
		return m, nil
	}

	switch e.kind {
	case evIssue:
		return m, []command{{kind: cmdSpeak, session: m.session, index: m.index, text: m.chunks[m.index]}}

	case evStart:
		return m, []command{{kind: cmdPublish, state: playingState(m.messageID)}}

	case evEnd, evError:
		label := "chunk_end"
		if e.kind == evError {
			label = "chunk_error"
		}
		cmds := []command{{kind: cmdCount, label: label}}
		if m.index+1 < len(m.chunks) {
			m.index++
			return m, append(cmds, command{kind: cmdArm, session: m.session, index: m.index})
		}
		return machine{session: m.session}, append(cmds,
			command{kind: cmdPublish, state: idleState()},
			command{kind: cmdCount, label: "complete"},
		)

	case evUnavailable:
		return machine{session: m.session}, []command{{kind: cmdPublish, state: idleState()}}
	}
	return m, nil
}

// current reports whether e belongs to the chunk the machine is waiting on.
func (m machine) current(e event) bool {
	return m.phase == phaseSpeaking && e.session == m.session && e.index == m.index
}
