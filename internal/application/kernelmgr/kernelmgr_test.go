package kernelmgr

import (
	"testing"
	"time"

	"github.com/cellmesh/cellmesh/internal/domain/model"
	"github.com/cellmesh/cellmesh/pkg/kernel"
)

func TestManager_SendAndReceiveNotification(t *testing.T) {
	m := New("nb1", nil)
	defer m.Shutdown()

	m.Send(kernel.Request{Kind: kernel.RequestRegisterCell, CellID: "c1", Code: "x = 1", Type: model.CellTypeImperative, Position: -1})

	notifications := m.Notifications()
	deadline := time.After(time.Second)
	for {
		select {
		case n := <-notifications:
			if n.CellID == "c1" && n.Channel == kernel.ChannelStatus && n.Status == model.CellStatusIdle {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for registration notification")
		}
	}
}

func TestManager_Shutdown_ClosesDiedChannel(t *testing.T) {
	m := New("nb1", nil)
	m.Shutdown()

	select {
	case <-m.Died():
	default:
		t.Fatal("expected Died() to be closed after Shutdown")
	}
}

func TestManager_Restart_DiscardsPriorState(t *testing.T) {
	m := New("nb1", nil)
	defer m.Shutdown()

	m.Send(kernel.Request{Kind: kernel.RequestRegisterCell, CellID: "c1", Code: "x = 1", Type: model.CellTypeImperative, Position: -1})
	drainStatus(t, m, "c1", model.CellStatusIdle)

	m.Restart()

	// After restart the new kernel has forgotten c1 entirely: executing it
	// must surface CELL_NOT_REGISTERED rather than silently succeeding.
	m.Send(kernel.Request{Kind: kernel.RequestExecute, CellID: "c1"})
	notifications := m.Notifications()
	deadline := time.After(time.Second)
	for {
		select {
		case n := <-notifications:
			if n.CellID == "c1" && n.Channel == kernel.ChannelError && n.ErrKind == model.ErrorKindCellNotRegistered {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for CELL_NOT_REGISTERED after restart")
		}
	}
}

func drainStatus(t *testing.T, m *Manager, cellID string, status model.CellStatus) {
	t.Helper()
	notifications := m.Notifications()
	deadline := time.After(time.Second)
	for {
		select {
		case n := <-notifications:
			if n.CellID == cellID && n.Channel == kernel.ChannelStatus && n.Status == status {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s status %s", cellID, status)
		}
	}
}
