// Package upstream adapts an SDTL channel to the six-operation driver
// contract the bus-replication layer expects: Connect, Send, Recv,
// Command, CheckState, Disconnect.
package upstream

import (
	"errors"
	"time"

	"github.com/librescoot/sdtl/internal/channel"
	"github.com/librescoot/sdtl/internal/sdtlpkt"
	"github.com/librescoot/sdtl/internal/service"
)

// Result classifies the outcome of a driver operation, mirroring
// eqrb_rv_t's subset used by the SDTL driver (eqrb_rv_ok,
// eqrb_media_remote_need_reset, eqrb_media_reset_cmd,
// eqrb_media_timedout, eqrb_media_err).
type Result int

const (
	Ok Result = iota
	RemoteNeedReset
	ResetCmd
	Timedout
	Err
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "ok"
	case RemoteNeedReset:
		return "remote_need_reset"
	case ResetCmd:
		return "reset_cmd"
	case Timedout:
		return "timedout"
	default:
		return "err"
	}
}

// Command selects between the two upstream commands the driver
// contract supports.
type Command int

const (
	CmdResetRemote Command = iota
	CmdResetLocalState
)

// Driver wraps one SDTL channel as the upstream driver contract.
type Driver struct {
	ch *channel.Handle
}

// Connect looks up a running Service by name and opens its named
// channel, mirroring eqrb_drv_sdtl_connect (sdtl_service_lookup +
// sdtl_channel_open).
func Connect(serviceName, channelName string) (*Driver, error) {
	svc, err := service.Lookup(serviceName)
	if err != nil {
		return nil, err
	}

	ch, ok := svc.ChannelByName(channelName)
	if !ok {
		return nil, errors.New("upstream: no channel named " + channelName + " on service " + serviceName)
	}

	return &Driver{ch: ch}, nil
}

// Send maps SendData's result onto the driver contract's result
// space, per spec §6.2: OK->ok; REMOTE_RX_CANCELED|NO_CLIENT->
// remote_need_reset; APP_RESET->reset_cmd; other->err.
func (d *Driver) Send(data []byte) (bytesSent int, result Result) {
	err := d.ch.SendData(data)
	switch {
	case err == nil:
		return len(data), Ok
	case errors.Is(err, channel.ErrRemoteRxCanceled), errors.Is(err, channel.ErrRemoteRxNoClient):
		return 0, RemoteNeedReset
	case errors.Is(err, channel.ErrAppReset):
		return 0, ResetCmd
	default:
		return 0, Err
	}
}

// Recv arms the channel's RX timeout then calls RecvData, per spec
// §6.2: OK|FIFO_OVERFLOW->ok; APP_RESET->reset_cmd; TIMEDOUT->
// timedout; other->err. On overflow, RecvData's n already reflects the
// payload accepted before the overrun, so it passes through unchanged.
func (d *Driver) Recv(buf []byte, timeout time.Duration) (n int, result Result) {
	d.ch.ArmRecvTimeout(timeout)

	n, err := d.ch.RecvData(buf)
	switch {
	case err == nil:
		return n, Ok
	case errors.Is(err, channel.ErrRxFifoOverflow):
		return n, Ok
	case errors.Is(err, channel.ErrAppReset):
		return 0, ResetCmd
	case errors.Is(err, channel.ErrTimedOut):
		return 0, Timedout
	default:
		return 0, Err
	}
}

// Command issues CmdResetRemote (a reliable CMD_RESET to the peer) or
// CmdResetLocalState (clears this channel's latched condition flags),
// per spec §6.2.
func (d *Driver) Command(cmd Command) Result {
	var err error
	switch cmd {
	case CmdResetRemote:
		err = d.ch.SendCmd(sdtlpkt.CmdReset)
	case CmdResetLocalState:
		d.ch.ResetCondition()
	default:
		return Err
	}

	if err != nil {
		return Err
	}
	return Ok
}

// CheckState reports a latched condition flag without blocking,
// mirroring eqrb_drv_sdtl_check_state / sdtl_channel_check_reset_condition.
func (d *Driver) CheckState() Result {
	err := d.ch.CheckResetCondition()
	switch {
	case err == nil:
		return Ok
	case errors.Is(err, channel.ErrAppReset), errors.Is(err, channel.ErrAppCancel):
		return ResetCmd
	default:
		return Err
	}
}

// Disconnect releases the driver's reference to the channel. SDTL
// channels outlive individual upstream connections (they're torn down
// by Service.Stop), so there's nothing to release here beyond
// matching eqrb_drv_sdtl_disconnect's always-ok return.
func (d *Driver) Disconnect() Result {
	d.ch = nil
	return Ok
}
