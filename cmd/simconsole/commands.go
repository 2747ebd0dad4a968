package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/robodog/simcontroller/domain/simulation"
)

// errQuit is returned by parseLine for "quit" and "exit".
var errQuit = errors.New("quit")

const usage = `commands:
  move W|A|S|D|STOP     hold one direction (STOP releases all)
  key W|A|S|D down|up   press or release one key
  speed <percent>       set speed, 50 is the baseline
  path x,y [x,y ...]    follow waypoints
  pause | resume        pause or resume the path
  stoppath              cancel the path
  stop                  stop all motion
  reset                 return to the origin
  action <name>         send a named action
  quit`

// parseLine turns one console line into a command carrying id.
func parseLine(line, id string) (simulation.CommandRequest, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return simulation.CommandRequest{}, errors.New("empty command")
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]

	switch verb {
	case "quit", "exit":
		return simulation.CommandRequest{}, errQuit
	case "move":
		if len(args) != 1 {
			return simulation.CommandRequest{}, errors.New("usage: move W|A|S|D|STOP")
		}
		return simulation.Move(id, simulation.Direction(strings.ToUpper(args[0]))), nil
	case "key":
		if len(args) != 2 {
			return simulation.CommandRequest{}, errors.New("usage: key W|A|S|D down|up")
		}
		var pressed bool
		switch strings.ToLower(args[1]) {
		case "down", "press":
			pressed = true
		case "up", "release":
		default:
			return simulation.CommandRequest{}, fmt.Errorf("unknown key state %q", args[1])
		}
		return simulation.Keyboard(id, simulation.Direction(strings.ToUpper(args[0])), pressed), nil
	case "speed":
		if len(args) != 1 {
			return simulation.CommandRequest{}, errors.New("usage: speed <percent>")
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return simulation.CommandRequest{}, fmt.Errorf("invalid speed %q: %w", args[0], err)
		}
		return simulation.SetSpeed(id, v), nil
	case "path":
		if len(args) == 0 {
			return simulation.CommandRequest{}, errors.New("usage: path x,y [x,y ...]")
		}
		points := make([]simulation.Vec2, 0, len(args))
		for _, a := range args {
			p, err := parsePoint(a)
			if err != nil {
				return simulation.CommandRequest{}, err
			}
			points = append(points, p)
		}
		return simulation.ExecPath(id, points...), nil
	case "pause":
		return simulation.Simple(id, simulation.CmdPausePath), nil
	case "resume":
		return simulation.Simple(id, simulation.CmdResumePath), nil
	case "stoppath":
		return simulation.Simple(id, simulation.CmdStopPath), nil
	case "stop":
		return simulation.Simple(id, simulation.CmdStop), nil
	case "reset":
		return simulation.Simple(id, simulation.CmdResetMap), nil
	case "action":
		if len(args) == 0 {
			return simulation.CommandRequest{}, errors.New("usage: action <name>")
		}
		cmd := simulation.Simple(id, simulation.CmdAction)
		cmd.Action = strings.Join(args, " ")
		return cmd, nil
	default:
		return simulation.CommandRequest{}, fmt.Errorf("unknown command %q", verb)
	}
}

func parsePoint(s string) (simulation.Vec2, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return simulation.Vec2{}, fmt.Errorf("waypoint %q must be x,y", s)
	}
	x, err := strconv.ParseFloat(xs, 64)
	if err != nil {
		return simulation.Vec2{}, fmt.Errorf("waypoint %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(ys, 64)
	if err != nil {
		return simulation.Vec2{}, fmt.Errorf("waypoint %q: %w", s, err)
	}
	return simulation.Vec2{X: x, Y: y}, nil
}
