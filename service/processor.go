package service

import (
	"log"

	"StoryToVideo-studio/config"

	"github.com/hibiken/asynq"
)

// Processor 处理队列任务
type Processor struct {
	Dispatcher *QueueDispatcher
	srv        *asynq.Server
}

func NewProcessor(d *QueueDispatcher) *Processor {
	return &Processor{Dispatcher: d}
}

// StartProcessor 启动任务消费者
func (p *Processor) StartProcessor(concurrency int) {
	p.srv = asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				p.Dispatcher.queue(): 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePollJob, p.Dispatcher.HandlePollTask)

	log.Printf("[Queue] Starting poll processor on %s with concurrency %d...", p.Dispatcher.queue(), concurrency)
	go func() {
		if err := p.srv.Run(mux); err != nil {
			log.Fatalf("could not run server: %v", err)
		}
	}()
}

func (p *Processor) Shutdown() {
	if p.srv != nil {
		p.srv.Shutdown()
	}
}
