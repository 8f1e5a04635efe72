package registry_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/msgr/registry"
)

var _ = Describe("registry / InmemoryRegistry", func() {
	var reg *registry.InmemoryRegistry

	BeforeEach(func() {
		reg = registry.NewInmemoryRegistry()
	})

	It("an empty registry has no connections", func() {
		Expect(reg.Len()).To(BeZero())

		snapshot, err := reg.Snapshot()
		Expect(err).To(Succeed())
		Expect(snapshot).To(MatchJSON(`{"connections":{}}`))
	})

	Describe("Register() / Get()", func() {
		It("can read a connection that is registered", func() {
			Expect(reg.Register(1, "127.0.0.1:5000")).To(Succeed())

			record, err := reg.Get(1)
			Expect(err).To(Succeed())
			Expect(record).To(MatchJSON(`{"id":1,"peer":"127.0.0.1:5000"}`))
			Expect(reg.Len()).To(Equal(1))
		})

		It("returns ErrNotFound for an unknown connection", func() {
			_, err := reg.Get(42)
			Expect(err).To(MatchError(registry.ErrNotFound))
		})

		It("quotes awkward peer addresses", func() {
			Expect(reg.Register(2, `[::1]:80 "x"`)).To(Succeed())

			record, err := reg.Get(2)
			Expect(err).To(Succeed())
			Expect(record).To(MatchJSON(`{"id":2,"peer":"[::1]:80 \"x\""}`))
		})
	})

	Describe("Set()", func() {
		It("updates a field of a registered connection", func() {
			Expect(reg.Register(1, "peer")).To(Succeed())
			Expect(reg.Set(1, "state", "open")).To(Succeed())
			Expect(reg.Set(1, "stats", map[string]int{"framesIn": 3})).To(Succeed())

			record, err := reg.Get(1)
			Expect(err).To(Succeed())
			Expect(record).To(MatchJSON(`{"id":1,"peer":"peer","state":"open","stats":{"framesIn":3}}`))
		})

		It("refuses to create records implicitly", func() {
			Expect(reg.Set(9, "state", "open")).To(MatchError(registry.ErrNotFound))
			Expect(reg.Len()).To(BeZero())
		})
	})

	Describe("Remove()", func() {
		It("forgets the connection", func() {
			Expect(reg.Register(1, "a")).To(Succeed())
			Expect(reg.Register(2, "b")).To(Succeed())
			Expect(reg.Remove(1)).To(Succeed())

			Expect(reg.Len()).To(Equal(1))
			_, err := reg.Get(1)
			Expect(err).To(MatchError(registry.ErrNotFound))

			snapshot, err := reg.Snapshot()
			Expect(err).To(Succeed())
			Expect(snapshot).To(MatchJSON(`{"connections":{"conn-2":{"id":2,"peer":"b"}}}`))
		})
	})
})
