package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Axis identifies a trimmed flight control axis.
type Axis int

const (
	AxisPitch Axis = iota
	AxisRoll
	AxisYaw
)

var axisNames = [...]string{"pitch", "roll", "yaw"}

func (a Axis) String() string {
	if a < 0 || int(a) >= len(axisNames) {
		return fmt.Sprintf("axis(%d)", int(a))
	}
	return axisNames[a]
}

// Command is a sparse set of control outputs. Every field is independent;
// an absent field leaves that control alone.
type Command struct {
	Pitch    Opt[float64]
	Roll     Opt[float64]
	Yaw      Opt[float64]
	Throttle Opt[float64]

	TrimAbs  [3]Opt[float64] // indexed by Axis
	TrimRate [3]Opt[float64] // indexed by Axis

	SpeedBrakeRate Opt[float64]
}

type commandField struct {
	name  string
	group string // outgoing group: "<id>;<name>;<arg>"
	v     *Opt[float64]
}

// fields lists every field in encoding order.
func (c *Command) fields() []commandField {
	fs := []commandField{
		{"pitch", "2;axis;pitch", &c.Pitch},
		{"roll", "2;axis;roll", &c.Roll},
		{"yaw", "2;axis;yaw", &c.Yaw},
		{"throttle", "2;axis;throttle", &c.Throttle},
	}
	for i := range c.TrimAbs {
		fs = append(fs, commandField{"trim_abs." + axisNames[i], "3;trim_abs;" + axisNames[i], &c.TrimAbs[i]})
	}
	for i := range c.TrimRate {
		fs = append(fs, commandField{"trim_rate." + axisNames[i], "4;trim_rate;" + axisNames[i], &c.TrimRate[i]})
	}
	return append(fs, commandField{"sbrake", "5;sbrake;rate", &c.SpeedBrakeRate})
}

// Empty reports whether no field is set.
func (c *Command) Empty() bool {
	for _, f := range c.fields() {
		if f.v.IsSet() {
			return false
		}
	}
	return true
}

// Set returns the names of the set fields.
func (c *Command) Set() []string {
	var names []string
	for _, f := range c.fields() {
		if f.v.IsSet() {
			names = append(names, f.name)
		}
	}
	return names
}

// Merge copies every field set in other that is not yet set in c. Fields
// set in both keep c's value and are returned as conflicts.
func (c *Command) Merge(other *Command) (conflicts []string) {
	if other == nil {
		return nil
	}
	mine, theirs := c.fields(), other.fields()
	for i, f := range theirs {
		if !f.v.IsSet() {
			continue
		}
		if mine[i].v.IsSet() {
			conflicts = append(conflicts, f.name)
			continue
		}
		*mine[i].v = *f.v
	}
	return conflicts
}

// String renders the set fields for logs.
func (c *Command) String() string {
	var parts []string
	for _, f := range c.fields() {
		if v, ok := f.v.Get(); ok {
			parts = append(parts, f.name+"="+strconv.FormatFloat(v, 'g', 4, 64))
		}
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// encode renders the outgoing datagram: a timestamp group followed by one
// group per set field.
func (c *Command) encode(now time.Time) ([]byte, error) {
	var b strings.Builder
	b.WriteString("1;ts;")
	b.WriteString(strconv.FormatFloat(float64(now.Unix())+float64(now.Nanosecond())/1e9, 'f', 3, 64))
	b.WriteByte(';')
	for _, f := range c.fields() {
		v, ok := f.v.Get()
		if !ok {
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s is %v", ErrMalformed, f.name, v)
		}
		b.WriteString(f.group)
		b.WriteByte(';')
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		b.WriteByte(';')
	}
	return []byte(b.String()), nil
}
