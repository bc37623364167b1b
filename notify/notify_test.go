package notify

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/cxxrtlbridge/protocol"
	"github.com/sarchlab/cxxrtlbridge/timestamp"
)

type doneToken struct {
	done chan struct{}
}

func newDoneToken() *doneToken {
	t := &doneToken{done: make(chan struct{})}
	close(t.done)

	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return nil }

type countingNotifier struct {
	msgs []Message
}

func (n *countingNotifier) Notify(msg Message) {
	n.msgs = append(n.msgs, msg)
}

var _ = Describe("ChannelNotifier", func() {
	It("should deliver messages", func() {
		n := NewChannelNotifier(2)

		n.Notify(Redraw())

		Eventually(n.C()).Should(Receive(Equal(Redraw())))
	})

	It("should drop messages when the buffer is full", func() {
		n := NewChannelNotifier(1)

		n.Notify(Redraw())
		n.Notify(Redraw())

		Expect(n.C()).To(HaveLen(1))
	})
})

var _ = Describe("Fanout", func() {
	It("should forward to every notifier", func() {
		a := &countingNotifier{}
		b := &countingNotifier{}

		Fanout(a, Nop(), b).Notify(Redraw())

		Expect(a.msgs).To(HaveLen(1))
		Expect(b.msgs).To(HaveLen(1))
	})
})

var _ = Describe("MQTTNotifier", func() {
	var (
		mockCtrl  *gomock.Controller
		publisher *MockPublisher
		n         *MQTTNotifier
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		publisher = NewMockPublisher(mockCtrl)
		n = NewMQTTNotifier(publisher, "sim/top")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should publish redraws", func() {
		publisher.EXPECT().
			Publish("sim/top/invalidate_draw_commands", byte(0), false, gomock.Any()).
			Return(newDoneToken())

		n.Notify(Redraw())
	})

	It("should include the status in status messages", func() {
		var payload []byte

		publisher.EXPECT().
			Publish("sim/top/status_changed", byte(0), false, gomock.Any()).
			DoAndReturn(func(_ string, _ byte, _ bool, p any) mqtt.Token {
				payload = p.([]byte)
				return newDoneToken()
			})

		n.Notify(Status(protocol.SimulationStatus{
			Status:     protocol.StatusPaused,
			LatestTime: timestamp.FromFemtosecondsUint64(1),
		}))

		decoded := map[string]string{}
		Expect(json.Unmarshal(payload, &decoded)).To(Succeed())
		Expect(decoded["kind"]).To(Equal("status_changed"))
		Expect(decoded["status"]).To(Equal("paused"))
		Expect(decoded["latest_time"]).To(Equal("0.000000000000001"))
	})
})
