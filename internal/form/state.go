package form

import "github.com/iabetor/voiceform/internal/logger"

// State 表示表单的提交状态。
type State int

const (
	// StateIdle 表示空闲，可以编辑输入或提交。
	StateIdle State = iota
	// StateSubmitting 表示合成请求进行中。
	StateSubmitting
)

var stateNames = [...]string{
	"Idle",
	"Submitting",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// stateMachine 记录提交状态并校验转换。
// 它不自带锁，由 Controller.mu 保护，保证状态与处理中标志同步变化。
//
//	Idle       → Submitting （前置校验通过）
//	Submitting → Idle       （请求成功或失败）
type stateMachine struct {
	current State
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateIdle}
}

func (sm *stateMachine) Current() State {
	return sm.current
}

// transition 尝试切换状态，非法转换返回 false 且状态不变。
func (sm *stateMachine) transition(to State) bool {
	from := sm.current
	if !validTransition(from, to) {
		logger.Debugf("[form] 非法转换 %s → %s", from, to)
		return false
	}
	sm.current = to
	logger.Debugf("[form] %s → %s", from, to)
	return true
}

func validTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateSubmitting
	case StateSubmitting:
		return to == StateIdle
	}
	return false
}
