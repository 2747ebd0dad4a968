package zeromq

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robodog/simcontroller/domain/simulation"
	"github.com/robodog/simcontroller/pkg/config"
	customlog "github.com/robodog/simcontroller/pkg/log"
)

type staticSource struct{ cfg *config.Config }

func (s staticSource) GetCurrentConfig() *config.Config { return s.cfg }

type jsonCall struct {
	topic   string
	msgType string
	data    interface{}
}

type fakeJSONPublisher struct{ calls []jsonCall }

func (f *fakeJSONPublisher) PublishJSON(topic, msgType string, data interface{}) error {
	f.calls = append(f.calls, jsonCall{topic, msgType, data})
	return nil
}

func testConfig() *config.Config {
	return &config.Config{Version: "1.0", ConfigID: "cfg-1", RobotID: "dog-1", LastUpdated: "2026-01-01"}
}

func decodeReply(t *testing.T, raw []byte) inboundMessage {
	t.Helper()
	var msg inboundMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestDispatcherRejectsMalformed(t *testing.T) {
	d := NewMessageDispatcher(customlog.NewNopLogger())

	_, err := d.Dispatch([]byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = d.Dispatch([]byte(`{"timestamp":1}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = d.Dispatch([]byte(`{"type":"NOPE"}`))
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestDispatcherRoutesToHandler(t *testing.T) {
	d := NewMessageDispatcher(customlog.NewNopLogger())
	var got []byte
	d.RegisterHandler("PING", HandlerFunc(func(data []byte) ([]byte, error) {
		got = data
		return []byte("PONG"), nil
	}))

	reply, err := d.Dispatch([]byte(`{"type":"PING"}`))
	require.NoError(t, err)
	assert.Equal(t, "PONG", string(reply))
	assert.JSONEq(t, `{"type":"PING"}`, string(got))
}

func TestConfigHandler(t *testing.T) {
	h := NewConfigHandler(staticSource{testConfig()}, customlog.NewNopLogger())

	reply, err := h.HandleMessage([]byte(`{"type":"CONFIG_REQUEST","timestamp":1}`))
	require.NoError(t, err)
	msg := decodeReply(t, reply)
	assert.Equal(t, MsgTypeConfigResponse, msg.Type)

	var cfg config.Config
	require.NoError(t, json.Unmarshal(msg.Data, &cfg))
	assert.Equal(t, "cfg-1", cfg.ConfigID)

	_, err = NewConfigHandler(staticSource{}, customlog.NewNopLogger()).
		HandleMessage([]byte(`{"type":"CONFIG_REQUEST"}`))
	assert.Error(t, err)
}

func TestCommandHandler(t *testing.T) {
	var submitted []byte
	submit := func(raw []byte) (string, bool, error) {
		submitted = raw
		cmd, err := simulation.DecodeCommand(raw)
		if err != nil {
			return "", false, err
		}
		return cmd.ID, true, nil
	}
	h := NewCommandHandler(submit, customlog.NewNopLogger())

	reply, err := h.HandleMessage([]byte(`{"type":"COMMAND","data":{"id":"z1","type":"MOVE","direction":"D"}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"z1","type":"MOVE","direction":"D"}`, string(submitted))

	msg := decodeReply(t, reply)
	assert.Equal(t, MsgTypeCommandResult, msg.Type)
	var result CommandResult
	require.NoError(t, json.Unmarshal(msg.Data, &result))
	assert.Equal(t, CommandResult{ID: "z1", Accepted: true}, result)

	_, err = h.HandleMessage([]byte(`{"type":"COMMAND","data":{"type":"MOVE","direction":"Q"}}`))
	assert.ErrorIs(t, err, simulation.ErrInvalidCommand)
	assert.Equal(t, 400, errorCode(err))

	_, err = h.HandleMessage([]byte(`{"type":"COMMAND"}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestStatusHandler(t *testing.T) {
	d := NewMessageDispatcher(customlog.NewNopLogger())
	d.RegisterHandler(MsgTypeStatusRequest, HandlerFunc(NewStatusHandler(func() interface{} {
		return map[string]string{"connection": "CONNECTED"}
	}, customlog.NewNopLogger())))

	reply, err := d.Dispatch([]byte(`{"type":"STATUS_REQUEST","timestamp":1}`))
	require.NoError(t, err)
	msg := decodeReply(t, reply)
	assert.Equal(t, MsgTypeStatusResponse, msg.Type)
	assert.JSONEq(t, `{"connection":"CONNECTED"}`, string(msg.Data))

	_, err = NewStatusHandler(func() interface{} { return nil }, customlog.NewNopLogger())([]byte(`{"type":"COMMAND"}`))
	assert.True(t, errors.Is(err, ErrInvalidMessage))
}

func TestErrorReply(t *testing.T) {
	msg := decodeReply(t, errorReply(fmt.Errorf("wrapped: %w", ErrUnknownMessageType)))
	assert.Equal(t, MsgTypeError, msg.Type)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	assert.Equal(t, 400, resp.Code)
	assert.Contains(t, resp.Message, "unknown message type")

	assert.Equal(t, 500, errorCode(errors.New("disk full")))
}

func TestConfigPublisher(t *testing.T) {
	pub := &fakeJSONPublisher{}
	p := NewConfigPublisher(pub, staticSource{testConfig()}, customlog.NewNopLogger())

	require.NoError(t, p.PublishConfigUpdatedNotification())
	require.NoError(t, p.PublishConfigUpdate())
	require.Len(t, pub.calls, 2)

	assert.Equal(t, TopicConfigNotification, pub.calls[0].topic)
	assert.Equal(t, MsgTypeConfigUpdated, pub.calls[0].msgType)
	assert.Equal(t, "cfg-1", pub.calls[0].data.(map[string]interface{})["config_id"])

	assert.Equal(t, TopicConfigUpdate, pub.calls[1].topic)
	assert.Equal(t, MsgTypeConfigResponse, pub.calls[1].msgType)

	empty := NewConfigPublisher(pub, staticSource{}, customlog.NewNopLogger())
	assert.Error(t, empty.PublishConfigUpdatedNotification())
}
