package state

import (
	"encoding/json"
	"fmt"
)

// wireState is the JSON-on-the-wire shape: discriminant plus a single
// payload object, matching whichever variant Kind names. Using json.RawMessage
// for the payload keeps MarshalJSON/UnmarshalJSON symmetric without a big
// switch duplicated on both sides of the wire.
type wireState struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (s State) payload() (interface{}, error) {
	switch s.Kind {
	case KindCreating:
		return s.Creating, nil
	case KindAttaching:
		return s.Attaching, nil
	case KindRecreating:
		return s.Recreating, nil
	case KindStarting:
		return s.Starting, nil
	case KindRestarting:
		return s.Restarting, nil
	case KindStarted:
		return s.Started, nil
	case KindReady:
		return s.Ready, nil
	case KindRunning:
		return s.Running, nil
	case KindCompleted:
		return s.Completed, nil
	case KindStopping:
		return s.Stopping, nil
	case KindStopped:
		return s.Stopped, nil
	case KindRebooting:
		return s.Rebooting, nil
	case KindDestroying:
		return s.Destroying, nil
	case KindDestroyed:
		return s.Destroyed, nil
	case KindErrored:
		return s.Errored, nil
	default:
		return nil, fmt.Errorf("state: unknown kind %q", s.Kind)
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	payload, err := s.payload()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireState{Kind: s.Kind, Payload: raw})
}

func (s *State) UnmarshalJSON(data []byte) error {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := State{Kind: w.Kind}
	var err error
	switch w.Kind {
	case KindCreating:
		out.Creating = new(CreatingData)
		err = json.Unmarshal(w.Payload, out.Creating)
	case KindAttaching:
		out.Attaching = new(AttachingData)
		err = json.Unmarshal(w.Payload, out.Attaching)
	case KindRecreating:
		out.Recreating = new(RecreatingData)
		err = json.Unmarshal(w.Payload, out.Recreating)
	case KindStarting:
		out.Starting = new(StartingData)
		err = json.Unmarshal(w.Payload, out.Starting)
	case KindRestarting:
		out.Restarting = new(RestartingData)
		err = json.Unmarshal(w.Payload, out.Restarting)
	case KindStarted:
		out.Started = new(StartedData)
		err = json.Unmarshal(w.Payload, out.Started)
	case KindReady:
		out.Ready = new(ReadyData)
		err = json.Unmarshal(w.Payload, out.Ready)
	case KindRunning:
		out.Running = new(RunningData)
		err = json.Unmarshal(w.Payload, out.Running)
	case KindCompleted:
		out.Completed = new(CompletedData)
		err = json.Unmarshal(w.Payload, out.Completed)
	case KindStopping:
		out.Stopping = new(StoppingData)
		err = json.Unmarshal(w.Payload, out.Stopping)
	case KindStopped:
		out.Stopped = new(StoppedData)
		err = json.Unmarshal(w.Payload, out.Stopped)
	case KindRebooting:
		out.Rebooting = new(RebootingData)
		err = json.Unmarshal(w.Payload, out.Rebooting)
	case KindDestroying:
		out.Destroying = new(DestroyingData)
		err = json.Unmarshal(w.Payload, out.Destroying)
	case KindDestroyed:
		out.Destroyed = new(DestroyedData)
		err = json.Unmarshal(w.Payload, out.Destroyed)
	case KindErrored:
		out.Errored = new(ErroredData)
		err = json.Unmarshal(w.Payload, out.Errored)
		if err == nil && out.Errored.Prior != nil && out.Errored.Prior.Kind == KindErrored && out.Errored.Prior.Errored != nil {
			// Depth cap 1 (spec.md §9): a record written before this cap
			// existed could in principle carry a deeper chain; flatten it
			// defensively on read rather than trust the writer.
			flattened := *out.Errored.Prior.Errored
			flattened.Prior = nil
			prior := *out.Errored.Prior
			prior.Errored = &flattened
			out.Errored.Prior = &prior
		}
	default:
		return fmt.Errorf("state: unknown kind %q", w.Kind)
	}
	if err != nil {
		return err
	}

	*s = out
	return nil
}
