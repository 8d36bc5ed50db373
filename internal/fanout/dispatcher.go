package fanout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/model"
	"github.com/fanout/internal/push"
	"golang.org/x/sync/errgroup"
)

// MemberResolver возвращает участников канала, кроме userID.
type MemberResolver interface {
	GetMembersExcluding(ctx context.Context, channelID, userID string) ([]string, error)
}

// TokenSource — реестр токенов устройств. GetTokens не возвращает ошибок, пустой набор означает пропуск.
type TokenSource interface {
	GetTokens(ctx context.Context, userID string) []model.DeviceToken
	RevokeToken(ctx context.Context, userID string, t model.DeviceToken) error
}

// UnreadCounter — инкремент непрочитанных; ретраи внутри реализации.
type UnreadCounter interface {
	Increment(ctx context.Context, userID, channelID string) error
}

// Options — настройки диспетчера.
type Options struct {
	Concurrency int
	Timeout     time.Duration
	Badge       int
}

// Report — итог одной рассылки.
type Report struct {
	Recipients int
	Attempted  int
	Delivered  int
	Failed     int
	Skipped    int // получатели без токенов
	Expired    int // токены, отозванные после ErrTokenExpired
}

type Dispatcher struct {
	members MemberResolver
	tokens  TokenSource
	unread  UnreadCounter
	sender  push.Sender
	opts    Options

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func NewDispatcher(members MemberResolver, tokens TokenSource, unread UnreadCounter, sender push.Sender, opts Options) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 16
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Dispatcher{members: members, tokens: tokens, unread: unread, sender: sender, opts: opts}
}

type delivery struct {
	userID string
	token  model.DeviceToken
}

// Dispatch рассылает уведомление всем участникам канала, кроме автора события, по одному пушу
// на (получатель, токен). Ошибка одной доставки не прерывает остальные.
// Инкременты непрочитанных идут параллельно и к концу Dispatch тоже завершены.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) Report {
	defer logger.DeferLogDuration("fanout.Dispatch", time.Now())()
	var rep Report
	if !ev.notifies() {
		return rep
	}
	recipients, err := d.members.GetMembersExcluding(ctx, ev.Message.ChannelID, ev.ActorID)
	if err != nil {
		logger.Errorf("fanout: members of %s: %v", ev.Message.ChannelID, err)
		return rep
	}
	rep.Recipients = len(recipients)
	if len(recipients) == 0 {
		return rep
	}

	var unreadWG sync.WaitGroup
	if ev.countsUnread() && d.unread != nil {
		for _, uid := range recipients {
			unreadWG.Add(1)
			go func(uid string) {
				defer unreadWG.Done()
				if err := d.unread.Increment(ctx, uid, ev.Message.ChannelID); err != nil {
					logger.Errorf("fanout: unread %s/%s: %v", uid, ev.Message.ChannelID, err)
				}
			}(uid)
		}
	}

	// Фаза 1: токены получателей.
	perUser := make([][]model.DeviceToken, len(recipients))
	lookup, lctx := errgroup.WithContext(ctx)
	lookup.SetLimit(d.opts.Concurrency)
	for i, uid := range recipients {
		lookup.Go(func() error {
			perUser[i] = d.tokens.GetTokens(lctx, uid)
			return nil
		})
	}
	_ = lookup.Wait()

	var jobs []delivery
	for i, toks := range perUser {
		if len(toks) == 0 {
			rep.Skipped++
			continue
		}
		for _, t := range toks {
			jobs = append(jobs, delivery{userID: recipients[i], token: t})
		}
	}
	rep.Attempted = len(jobs)

	// Фаза 2: доставка. Задачи всегда возвращают nil, чтобы errgroup не отменял соседей.
	var delivered, failed, expired atomic.Int64
	body := ev.Body()
	send := new(errgroup.Group)
	send.SetLimit(d.opts.Concurrency)
	for _, j := range jobs {
		send.Go(func() error {
			payload := model.NewPushPayload(ev.Title, body, j.token.Value, d.opts.Badge)
			err := d.sender.Send(ctx, j.token, payload)
			switch {
			case err == nil:
				delivered.Add(1)
			case errors.Is(err, push.ErrTokenExpired):
				failed.Add(1)
				if rerr := d.tokens.RevokeToken(ctx, j.userID, j.token); rerr != nil {
					logger.Errorf("fanout: revoke expired token of %s: %v", j.userID, rerr)
				} else {
					expired.Add(1)
				}
			default:
				failed.Add(1)
				logger.Warnf("fanout: deliver to %s (%s): %v", j.userID, j.token.Kind, err)
			}
			return nil
		})
	}
	_ = send.Wait()
	unreadWG.Wait()

	rep.Delivered = int(delivered.Load())
	rep.Failed = int(failed.Load())
	rep.Expired = int(expired.Load())
	logger.Debugf("fanout: %s %s recipients=%d attempted=%d delivered=%d failed=%d skipped=%d",
		ev.Kind, ev.Message.ID, rep.Recipients, rep.Attempted, rep.Delivered, rep.Failed, rep.Skipped)
	return rep
}

// Submit запускает Dispatch в фоне с собственным таймаутом и возвращается сразу.
// После Close события отбрасываются.
func (d *Dispatcher) Submit(ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		logger.Warnf("fanout: dispatcher closed, dropping %s event for %s", ev.Kind, ev.Message.ID)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
		defer cancel()
		d.Dispatch(ctx, ev)
	}()
}

// Close перестаёт принимать события и ждёт текущие рассылки (не дольше ctx).
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver отправляет одно уведомление с заранее посчитанными заголовком и текстом.
func (d *Dispatcher) Deliver(ctx context.Context, token model.DeviceToken, title, body string) error {
	return d.sender.Send(ctx, token, model.NewPushPayload(title, body, token.Value, d.opts.Badge))
}
