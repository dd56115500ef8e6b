package scara_arm

import (
	"strconv"
	"strings"
)

// CommandID is the first field of every frame sent to the arm firmware.
type CommandID int

const (
	CmdHome CommandID = 1
	CmdMove CommandID = 2
)

func (c CommandID) String() string {
	switch c {
	case CmdHome:
		return "home"
	case CmdMove:
		return "move"
	default:
		return "unknown"
	}
}

// CompletionToken is the line the firmware prints once a command has finished.
const CompletionToken = "DONE"

const frameParams = 8

// Default motion profile used when a caller leaves speed or acceleration unset.
const (
	DefaultSpeed = 5000
	DefaultAccel = 3000
)

// MotionProfile carries the firmware speed and acceleration values for one command.
type MotionProfile struct {
	Speed int `json:"speed,omitempty"`
	Accel int `json:"accel,omitempty"`
}

// withDefaults fills zero fields from def.
func (p MotionProfile) withDefaults(def MotionProfile) MotionProfile {
	if p.Speed == 0 {
		p.Speed = def.Speed
	}
	if p.Accel == 0 {
		p.Accel = def.Accel
	}
	return p
}

// MotionCommand is one framed instruction for the arm firmware.
type MotionCommand struct {
	ID     CommandID
	Params [frameParams]int
}

// HomeCommand builds the homing frame: 1,0,0,0,0,0,0,speed,accel.
func HomeCommand(p MotionProfile) MotionCommand {
	return MotionCommand{
		ID:     CmdHome,
		Params: [frameParams]int{0, 0, 0, 0, 0, 0, p.Speed, p.Accel},
	}
}

// MoveCommand builds a joint move frame. Fractional values are truncated toward zero.
func MoveCommand(pose ArmState, p MotionProfile) MotionCommand {
	return MotionCommand{
		ID: CmdMove,
		Params: [frameParams]int{
			0,
			int(pose.Theta1),
			int(pose.Theta2),
			int(pose.Phi),
			int(pose.Z),
			int(pose.Gripper),
			p.Speed,
			p.Accel,
		},
	}
}

// Frame renders the command as the ASCII line written to the serial port.
func (c MotionCommand) Frame() []byte {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(int(c.ID)))
	for _, v := range c.Params {
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(v))
	}
	sb.WriteByte('\n')
	return []byte(sb.String())
}

func (c MotionCommand) String() string {
	return strings.TrimSuffix(string(c.Frame()), "\n")
}
