package session

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/memstore"
	"github.com/vinicius-lino-figueiredo/liveview/adapter/notifier"
	"github.com/vinicius-lino-figueiredo/liveview/domain"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// fixture holds an engine with a Dog and a Person table. Dogs are created
// with ages 4, 3, 1 and 1.
type fixture struct {
	suite.Suite
	ctx    context.Context
	engine domain.Engine
	looper *notifier.Looper
	opened []*Session
}

func (f *fixture) SetupTest() {
	f.ctx = context.Background()
	f.engine = memstore.NewEngine()
	f.looper = notifier.NewLooper()
	f.opened = nil

	f.write(func(w *Session) {
		_, err := w.CreateTable("Dog",
			domain.ColumnSpec{Name: "name", Type: domain.FieldString, Indexed: true},
			domain.ColumnSpec{Name: "age", Type: domain.FieldInt},
			domain.ColumnSpec{Name: "weight", Type: domain.FieldDouble, Nullable: true},
			domain.ColumnSpec{Name: "born", Type: domain.FieldDate, Nullable: true},
		)
		f.Require().NoError(err)
		_, err = w.CreateTable("Person",
			domain.ColumnSpec{Name: "name", Type: domain.FieldString},
			domain.ColumnSpec{Name: "dog", Type: domain.FieldObject, Target: "Dog"},
		)
		f.Require().NoError(err)

		f.addDog(w, "Rex", 4)
		f.addDog(w, "Fido", 3)
		f.addDog(w, "Bob", 1)
		f.addDog(w, "Max", 1)
	})
}

func (f *fixture) TearDownTest() {
	for _, s := range f.opened {
		if s.looper != nil && f.looper.Alive() {
			f.do(func() { f.NoError(s.Close()) })
		} else {
			f.NoError(s.Close())
		}
	}
	f.looper.Quit()
	<-f.looper.Done()
	f.NoError(f.engine.Close())
}

// open returns a session without looper.
func (f *fixture) open(options ...Option) *Session {
	s, err := Open(f.engine, options...)
	f.Require().NoError(err)
	f.opened = append(f.opened, s)
	return s
}

// openLooper returns a session confined to the fixture looper.
func (f *fixture) openLooper(options ...Option) *Session {
	return f.open(append([]Option{WithLooper(f.looper)}, options...)...)
}

// do runs fn on the looper and waits for it.
func (f *fixture) do(fn func()) {
	f.Require().NoError(f.looper.Do(f.ctx, fn))
}

// block parks the looper until the returned function is called.
func (f *fixture) block() func() {
	parked := make(chan struct{})
	release := make(chan struct{})
	f.Require().NoError(f.looper.Post(func() {
		close(parked)
		<-release
	}))
	<-parked
	return func() { close(release) }
}

// write runs fn inside a write transaction of a short-lived session, the
// way another connection would.
func (f *fixture) write(fn func(w *Session)) domain.Version {
	w, err := Open(f.engine)
	f.Require().NoError(err)
	defer w.Close()

	f.Require().NoError(w.BeginTransaction(f.ctx))
	fn(w)
	v, err := w.CommitTransaction(f.ctx)
	f.Require().NoError(err)
	return v
}

// addDog can be called from the looper, so it does not stop the test on
// failure.
func (f *fixture) addDog(w *Session, name string, age int) *Object {
	o, err := w.CreateObject("Dog")
	if !f.NoError(err) {
		return nil
	}
	f.NoError(o.Set("name", name))
	f.NoError(o.Set("age", age))
	return o
}

// caughtUp waits until ses reads the latest version of the engine.
func (f *fixture) caughtUp(ses *Session) {
	f.Eventually(func() bool {
		var v domain.Version
		err := f.looper.Do(f.ctx, func() { v = ses.Version() })
		return err == nil && v == f.engine.Latest()
	}, time.Second, 5*time.Millisecond)
}

type SessionTestSuite struct {
	fixture
}

func (s *SessionTestSuite) TestOpen() {
	ses := s.open()
	s.Equal(s.engine.Latest(), ses.Version())
	s.False(ses.IsInTransaction())
	s.False(ses.IsClosed())
	s.False(ses.IsAutoRefresh())
	s.NotEqual(ses.ID(), s.open().ID())

	ls := s.openLooper()
	s.True(ls.IsAutoRefresh())
	s.False(s.openLooper(WithAutoRefresh(false)).IsAutoRefresh())
}

func (s *SessionTestSuite) TestClose() {
	ses := s.open()
	res, err := ses.AllObjects("Dog")
	s.Require().NoError(err)
	s.Require().NoError(res.Load(s.ctx))
	obj, err := res.First()
	s.Require().NoError(err)
	it, err := res.Iterator()
	s.Require().NoError(err)
	obs, err := ses.NewObserver()
	s.Require().NoError(err)

	s.NoError(ses.Close())
	s.NoError(ses.Close())
	s.True(ses.IsClosed())

	s.False(res.IsValid())
	s.False(obj.IsValid())
	s.False(obs.Alive())
	s.False(it.Next())
	s.ErrorIs(it.Err(), domain.ErrInvalidState)

	_, err = res.Size()
	s.ErrorIs(err, domain.ErrInvalidState)
	_, err = obj.Get("name")
	s.ErrorIs(err, domain.ErrInvalidState)
	s.ErrorIs(ses.BeginTransaction(s.ctx), domain.ErrInvalidState)
	s.ErrorIs(ses.Refresh(s.ctx), domain.ErrInvalidState)
	_, err = ses.Where("Dog").FindAll()
	s.ErrorIs(err, domain.ErrInvalidState)
	_, err = ses.NewObserver()
	s.ErrorIs(err, domain.ErrInvalidState)
}

func (s *SessionTestSuite) TestCloseCancelsTransaction() {
	ses := s.open()
	s.Require().NoError(ses.BeginTransaction(s.ctx))
	_, err := ses.CreateObject("Dog")
	s.Require().NoError(err)
	s.NoError(ses.Close())

	// the writer lock was released and the row discarded
	other := s.open()
	s.Require().NoError(other.BeginTransaction(s.ctx))
	s.NoError(other.CancelTransaction())
	size, err := s.mustAll(other).Size()
	s.NoError(err)
	s.Equal(4, size)
}

func (s *SessionTestSuite) mustAll(ses *Session) *Results {
	res, err := ses.AllObjects("Dog")
	s.Require().NoError(err)
	return res
}

func (s *SessionTestSuite) TestTransactionState() {
	ses := s.open()

	_, err := ses.CreateObject("Dog")
	s.ErrorIs(err, domain.ErrInvalidState)
	_, err = ses.CommitTransaction(s.ctx)
	s.ErrorIs(err, domain.ErrInvalidState)
	s.ErrorIs(ses.CancelTransaction(), domain.ErrInvalidState)
	_, err = ses.CreateTable("Cat")
	s.ErrorIs(err, domain.ErrInvalidState)

	s.Require().NoError(ses.BeginTransaction(s.ctx))
	s.True(ses.IsInTransaction())
	s.ErrorIs(ses.BeginTransaction(s.ctx), domain.ErrInvalidState)
	s.ErrorIs(ses.Refresh(s.ctx), domain.ErrInvalidState)
	s.NoError(ses.CancelTransaction())
	s.False(ses.IsInTransaction())
}

func (s *SessionTestSuite) TestBeginWaitsForWriter() {
	first := s.open()
	second := s.open()
	s.Require().NoError(first.BeginTransaction(s.ctx))

	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()
	s.ErrorIs(second.BeginTransaction(ctx), context.DeadlineExceeded)
	s.False(second.IsInTransaction())

	s.NoError(first.CancelTransaction())
	s.NoError(second.BeginTransaction(s.ctx))
	s.NoError(second.CancelTransaction())
}

func (s *SessionTestSuite) TestCommitPinsLatest() {
	ses := s.open()
	before := ses.Version()

	s.Require().NoError(ses.BeginTransaction(s.ctx))
	s.addDog(ses, "Toby", 2)
	v, err := ses.CommitTransaction(s.ctx)
	s.Require().NoError(err)

	s.True(v.After(before))
	s.Equal(v, ses.Version())
	s.Equal(v, s.engine.Latest())
}

var errPin = errors.New("cannot pin")

// pinEngine fails to pin versions while failPin is set.
type pinEngine struct {
	domain.Engine
	failPin bool
}

func (e *pinEngine) PinLatest() (domain.Snapshot, error) {
	if e.failPin {
		return nil, errPin
	}
	return e.Engine.PinLatest()
}

// A commit that cannot pin its version still reports it, and looper sessions
// catch up on their next cycle.
func (s *SessionTestSuite) TestCommitPinFails() {
	engine := &pinEngine{Engine: s.engine}
	var (
		ses    *Session
		before domain.Version
		v      domain.Version
		err    error
	)
	s.do(func() {
		ses, err = Open(engine, WithLooper(s.looper))
		if !s.NoError(err) {
			return
		}
		s.opened = append(s.opened, ses)
		before = ses.Version()

		s.NoError(ses.BeginTransaction(s.ctx))
		s.addDog(ses, "Toby", 2)
		engine.failPin = true
		v, err = ses.CommitTransaction(s.ctx)
		engine.failPin = false

		s.False(ses.IsInTransaction())
		s.Equal(before, ses.Version())
	})
	s.Require().NotNil(ses)
	s.ErrorIs(err, errPin)
	s.True(v.After(before))
	s.Equal(s.engine.Latest(), v)
	s.caughtUp(ses)
}

// Versions read before a commit are kept only while loaded results are held
// at them.
func (s *SessionTestSuite) TestCommitRetainsHeldVersions() {
	ses := s.open()
	s.Require().NoError(ses.BeginTransaction(s.ctx))
	_, err := ses.CommitTransaction(s.ctx)
	s.Require().NoError(err)
	s.Empty(ses.retained)

	res := s.mustAll(ses)
	s.Require().NoError(res.Load(s.ctx))
	held := res.Version()
	for range 3 {
		s.Require().NoError(ses.BeginTransaction(s.ctx))
		s.addDog(ses, "Toby", 2)
		_, err = ses.CommitTransaction(s.ctx)
		s.Require().NoError(err)
	}
	s.Len(ses.retained, 1)
	s.Contains(ses.retained, held)

	s.Require().NoError(ses.Refresh(s.ctx))
	s.Empty(ses.retained)
	size, err := res.Size()
	s.NoError(err)
	s.Equal(7, size)
}

func (s *SessionTestSuite) TestRefresh() {
	ses := s.open()
	before := ses.Version()
	v := s.write(func(w *Session) { s.addDog(w, "Toby", 2) })

	s.Equal(before, ses.Version())
	s.NoError(ses.Refresh(s.ctx))
	s.Equal(v, ses.Version())
}

func (s *SessionTestSuite) TestAutoRefreshNeedsLooper() {
	ses := s.open()
	s.ErrorIs(ses.SetAutoRefresh(true), domain.ErrDeliveryUnsupported)
	s.NoError(ses.SetAutoRefresh(false))

	ls := s.openLooper()
	s.do(func() {
		s.NoError(ls.SetAutoRefresh(false))
		s.False(ls.IsAutoRefresh())
		s.NoError(ls.SetAutoRefresh(true))
		s.True(ls.IsAutoRefresh())
	})
}

func (s *SessionTestSuite) TestListenersNeedLooper() {
	ses := s.open()
	obs, err := ses.NewObserver()
	s.Require().NoError(err)

	s.ErrorIs(ses.AddListener(obs, NewListener(func(*Session) {})), domain.ErrDeliveryUnsupported)

	res := s.mustAll(ses)
	s.ErrorIs(res.AddListener(obs, NewListener(func(*Results) {})), domain.ErrDeliveryUnsupported)

	obj, err := res.First()
	s.Require().NoError(err)
	s.ErrorIs(obj.AddListener(obs, NewListener(func(*Object) {})), domain.ErrDeliveryUnsupported)
}

func (s *SessionTestSuite) TestListenersAfterLooperQuit() {
	ls := s.openLooper()
	var res *Results
	var obs Observer
	s.do(func() {
		var err error
		res, err = ls.AllObjects("Dog")
		s.NoError(err)
		obs, err = ls.NewObserver()
		s.NoError(err)
	})
	s.looper.Quit()
	<-s.looper.Done()

	s.ErrorIs(res.AddListener(obs, NewListener(func(*Results) {})), domain.ErrDeliveryUnsupported)
}

func (s *SessionTestSuite) TestNilListener() {
	ls := s.openLooper()
	s.do(func() {
		obs, err := ls.NewObserver()
		s.NoError(err)
		s.ErrorIs(ls.AddListener(nil, NewListener(func(*Session) {})), domain.ErrInvalidArgument)
		s.ErrorIs(ls.AddListener(obs, nil), domain.ErrInvalidArgument)
	})
}

func (s *SessionTestSuite) TestWaitForChange() {
	ses := s.open()
	done := make(chan bool, 1)
	go func() {
		changed, err := ses.WaitForChange(s.ctx)
		s.NoError(err)
		done <- changed
	}()

	s.write(func(w *Session) { s.addDog(w, "Toby", 2) })
	s.True(<-done)
	s.Less(ses.Version(), s.engine.Latest())
}

func (s *SessionTestSuite) TestStopWaitForChange() {
	ses := s.open()
	done := make(chan bool, 1)
	started := make(chan struct{})
	go func() {
		close(started)
		changed, err := ses.WaitForChange(s.ctx)
		s.NoError(err)
		done <- changed
	}()
	<-started

	// the stop is sticky, so it is seen even if the wait did not start yet
	ses.StopWaitForChange()
	s.False(<-done)

	// and consumed by the wait that observed it
	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()
	changed, err := ses.WaitForChange(ctx)
	s.False(changed)
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *SessionTestSuite) TestSchema() {
	ses := s.open()
	ts, err := ses.Schema("Person")
	s.Require().NoError(err)
	col, ok := ts.Column("dog")
	s.True(ok)
	s.Equal("Dog", col.Target)

	_, err = ses.Schema("Cat")
	s.ErrorIs(err, domain.ErrTableNotFound)
}

func (s *SessionTestSuite) TestCreateTable() {
	ses := s.open()
	s.Require().NoError(ses.BeginTransaction(s.ctx))
	_, err := ses.CreateTable("Cat", domain.ColumnSpec{Name: "name", Type: domain.FieldString})
	s.NoError(err)
	_, err = ses.CreateTable("Dog")
	s.ErrorIs(err, domain.ErrTableExists)
	_, err = ses.AddColumn("Cat", domain.ColumnSpec{Name: "lives", Type: domain.FieldInt})
	s.NoError(err)
	s.NoError(ses.AddSearchIndex("Cat", "lives"))
	s.ErrorIs(ses.AddSearchIndex("Cat", "owner"), domain.ErrAmbiguousField)
	s.ErrorIs(ses.AddSearchIndex("Bird", "name"), domain.ErrTableNotFound)
	_, err = ses.CommitTransaction(s.ctx)
	s.Require().NoError(err)

	ts, err := ses.Schema("Cat")
	s.Require().NoError(err)
	col, ok := ts.Column("lives")
	s.True(ok)
	s.True(col.Indexed)
}

func (s *SessionTestSuite) TestObject() {
	ses := s.open()
	first, err := s.mustAll(ses).First()
	s.Require().NoError(err)

	obj, err := ses.Object("Dog", first.Key())
	s.Require().NoError(err)
	s.Equal("Dog", obj.Table())
	name, err := obj.Get("name")
	s.NoError(err)
	s.Equal("Rex", name)

	_, err = ses.Object("Dog", 999)
	s.ErrorIs(err, domain.ErrRowNotFound)
	_, err = ses.Object("Cat", first.Key())
	s.ErrorIs(err, domain.ErrTableNotFound)
}

func (s *SessionTestSuite) TestObjectLinks() {
	ses := s.open()
	s.Require().NoError(ses.BeginTransaction(s.ctx))
	rex, err := ses.Where("Dog").EqualTo("name", "Rex").FindFirst()
	s.Require().NoError(err)
	ana, err := ses.CreateObject("Person")
	s.Require().NoError(err)
	s.NoError(ana.Set("name", "Ana"))
	s.NoError(ana.Set("dog", rex))

	s.ErrorIs(ana.Set("cat", rex), domain.ErrAmbiguousField)
	s.ErrorIs(ana.Set("name", 12), domain.ErrInvalidArgument)
	_, err = ses.CommitTransaction(s.ctx)
	s.Require().NoError(err)

	v, err := ana.Get("dog.name")
	s.NoError(err)
	s.Equal("Rex", v)
	_, err = ana.Get("name.size")
	s.ErrorIs(err, domain.ErrInvalidPath)
	_, err = ana.Get("dog.")
	s.ErrorIs(err, domain.ErrInvalidPath)

	s.write(func(w *Session) {
		p, err := w.Object("Person", ana.Key())
		s.Require().NoError(err)
		s.NoError(p.Set("dog", (*Object)(nil)))
	})
	s.NoError(ses.Refresh(s.ctx))
	v, err = ana.Get("dog.name")
	s.NoError(err)
	s.Nil(v)
}

func (s *SessionTestSuite) TestObjectDecode() {
	ses := s.open()
	obj, err := ses.Where("Dog").EqualTo("name", "Fido").FindFirst()
	s.Require().NoError(err)

	var dog struct {
		Key  int64  `liveview:"_key"`
		Name string `liveview:"name"`
		Age  int64  `liveview:"age"`
	}
	s.NoError(obj.Decode(&dog))
	s.Equal(int64(obj.Key()), dog.Key)
	s.Equal("Fido", dog.Name)
	s.Equal(int64(3), dog.Age)

	m, err := obj.Map()
	s.NoError(err)
	s.Nil(m["weight"])

	s.ErrorIs(obj.Decode(dog), domain.ErrNonPointer)
}

func (s *SessionTestSuite) TestObjectDelete() {
	ses := s.open()
	obj, err := ses.Where("Dog").EqualTo("name", "Bob").FindFirst()
	s.Require().NoError(err)
	s.ErrorIs(obj.Delete(), domain.ErrInvalidState)

	s.Require().NoError(ses.BeginTransaction(s.ctx))
	s.NoError(obj.Delete())
	s.False(obj.IsValid())
	s.ErrorIs(obj.Set("age", 2), domain.ErrRowNotFound)
	_, err = ses.CommitTransaction(s.ctx)
	s.Require().NoError(err)

	s.False(obj.IsValid())
	_, err = obj.Get("name")
	s.ErrorIs(err, domain.ErrRowNotFound)
}

func (s *SessionTestSuite) TestImportExport() {
	ses := s.open()
	s.Require().NoError(ses.BeginTransaction(s.ctx))
	keys, err := ses.Import(s.ctx, "Dog", bytes.NewBufferString(`[{"name":"Toby","age":2},{"name":"Luna","age":5}]`))
	s.Require().NoError(err)
	s.Len(keys, 2)
	_, err = ses.CommitTransaction(s.ctx)
	s.Require().NoError(err)

	res, err := ses.Where("Dog").GreaterThan("age", 4).FindAll()
	s.Require().NoError(err)
	size, err := res.Size()
	s.NoError(err)
	s.Equal(1, size)

	var buf bytes.Buffer
	s.NoError(ses.Export(s.ctx, "Dog", &buf))
	s.Equal(6, bytes.Count(buf.Bytes(), []byte("\n")))
	s.Contains(buf.String(), `"name":"Luna"`)

	_, err = ses.Import(s.ctx, "Dog", bytes.NewBufferString(`[]`))
	s.ErrorIs(err, domain.ErrInvalidState)
}

func (s *SessionTestSuite) TestTracing() {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(s.ctx)

	ses := s.open(WithTracer(tp.Tracer("test")))
	s.Require().NoError(ses.BeginTransaction(s.ctx))
	s.addDog(ses, "Toby", 2)
	v, err := ses.CommitTransaction(s.ctx)
	s.Require().NoError(err)
	s.NoError(ses.Refresh(s.ctx))

	spans := rec.Ended()
	s.Require().Len(spans, 2)
	s.Equal("liveview.commit", spans[0].Name())
	s.Equal("liveview.refresh", spans[1].Name())
	for _, span := range spans {
		attrs := attribute.NewSet(span.Attributes()...)
		id, ok := attrs.Value("liveview.session")
		s.True(ok)
		s.Equal(ses.ID().String(), id.AsString())
		version, ok := attrs.Value("liveview.version")
		s.True(ok)
		s.Equal(int64(v), version.AsInt64())
	}
}

func (s *SessionTestSuite) TestEngineClosed() {
	ses := s.open()
	s.Require().NoError(s.engine.Close())
	s.ErrorIs(ses.BeginTransaction(s.ctx), domain.ErrInvalidState)
	s.ErrorIs(ses.Refresh(s.ctx), domain.ErrInvalidState)
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
