// Package logger — логирование с префиксом сервиса и асинхронной записью,
// чтобы fan-out и путь записи сообщений не ждали вывода в лог.
package logger

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

const asyncBufferSize = 8192

// slowThreshold — порог, после которого LogDuration пишет даже на уровне info.
const slowThreshold = 100 * time.Millisecond

var (
	prefix   string
	logLevel = levelInfo
	ch       chan string
	once     sync.Once
	pending  sync.WaitGroup
)

type level int

const (
	levelDebug level = iota
	levelInfo
)

func parseLevel(s string) level {
	switch s {
	case "debug", "trace":
		return levelDebug
	default:
		return levelInfo
	}
}

func initWorker() {
	logLevel = parseLevel(os.Getenv("LOG_LEVEL"))
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
			pending.Done()
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	pending.Add(1)
	select {
	case ch <- msg:
	default:
		// Буфер полон: строка теряется, вызывающий не блокируется
		pending.Done()
	}
}

// SetPrefix задаёт префикс для всех последующих логов ("api", "push").
func SetPrefix(p string) {
	prefix = p
}

// SetLevel переопределяет уровень из конфигурации (LOG_LEVEL в env имеет тот же эффект).
func SetLevel(s string) {
	once.Do(initWorker)
	logLevel = parseLevel(s)
}

// Flush ждёт, пока очередь логов будет записана. Вызывается при остановке сервиса.
func Flush(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

func tag() string {
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

func Info(v ...any) {
	enqueue(tag() + fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(tag() + fmt.Sprintf(format, v...))
}

// Debugf пишет только при LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	once.Do(initWorker)
	if logLevel != levelDebug {
		return
	}
	enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
}

// Warnf — некритичные сбои (например, доставка на один токен).
func Warnf(format string, v ...any) {
	enqueue(tag() + "WARN: " + fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration логирует имя функции и время выполнения в миллисекундах.
// На уровне info — только вызовы дольше slowThreshold, на debug — все.
func LogDuration(fn string, start time.Time) {
	once.Do(initWorker)
	elapsed := time.Since(start)
	if logLevel == levelDebug || elapsed >= slowThreshold {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration возвращает функцию для defer: defer logger.DeferLogDuration("msg.Append", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
