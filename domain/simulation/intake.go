package simulation

// applyCommand mutates s according to cmd. cmd must already be validated.
func applyCommand(s *ControlState, cmd CommandRequest) {
	switch cmd.Type {
	case CmdSetSpeed:
		s.SpeedMultiplier = *cmd.Value / 50

	case CmdExecPath:
		s.PathQueue = append([]Vec2(nil), cmd.Points...)
		if len(s.PathQueue) > 0 {
			s.AutopilotActive = true
		}

	case CmdPausePath:
		s.Paused = true

	case CmdResumePath:
		s.Paused = false

	case CmdStopPath:
		s.cancelAutopilot()

	case CmdMove:
		// Manual override always wins over a running path.
		if cmd.Direction != DirStop {
			s.cancelAutopilot()
		}
		switch cmd.Direction {
		case DirStop:
			s.clearDirections()
		default:
			setDirection(s, cmd.Direction, true)
		}

	case CmdKeyboard:
		setDirection(s, cmd.Key, *cmd.Pressed)

	case CmdStop:
		s.clearDirections()
		s.cancelAutopilot()

	case CmdResetMap:
		s.Position = Vec2{}
		s.clearDirections()
		s.cancelAutopilot()

	case CmdAction:
		// acknowledged only
	}
}

func setDirection(s *ControlState, dir Direction, held bool) {
	switch dir {
	case DirForward:
		s.Forward = held
	case DirBackward:
		s.Backward = held
	case DirLeft:
		s.Left = held
	case DirRight:
		s.Right = held
	}
}
