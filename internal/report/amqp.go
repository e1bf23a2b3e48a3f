package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "solshuttle/internal/errors"
	"solshuttle/internal/scheduler"
)

// AMQPConfig 描述 RabbitMQ 事件队列的连接参数。
type AMQPConfig struct {
	URL   string
	Queue string
}

// Event 是投递到队列中的周期结果。
type Event struct {
	CycleID    string    `json:"cycle_id"`
	Direction  string    `json:"direction"`
	Sender     string    `json:"sender"`
	Receiver   string    `json:"receiver"`
	Amount     string    `json:"amount_sol"`
	Lamports   int64     `json:"lamports"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage"`
	Signature  string    `json:"signature,omitempty"`
	Slot       uint64    `json:"slot,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewEvent 把周期结果转换为事件。
func NewEvent(o scheduler.Outcome) Event {
	ev := Event{
		CycleID:    o.CycleID,
		Direction:  o.Direction.Label(),
		Sender:     o.Sender.String(),
		Receiver:   o.Receiver.String(),
		Amount:     o.Amount.String(),
		Lamports:   o.Amount.Lamports,
		Status:     o.Status(),
		Stage:      string(o.Stage),
		Signature:  o.Receipt.Signature,
		Slot:       o.Receipt.Slot,
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
	if o.Err != nil {
		ev.ErrorCode = string(xerrors.CodeOf(o.Err))
		ev.Error = o.Err.Error()
	}
	return ev
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher 将每个周期结果以 JSON 投递到 RabbitMQ。
type AMQPPublisher struct {
	conn  *amqp.Connection
	ch    amqpChannel
	queue string
}

// NewAMQPPublisher 连接 RabbitMQ 并声明持久化队列。
func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "solshuttle.transfers"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, queue: queue}, nil
}

// Report 投递事件。
func (p *AMQPPublisher) Report(ctx context.Context, o scheduler.Outcome) error {
	if p == nil || p.ch == nil {
		return errors.New("RabbitMQ 发布器未初始化")
	}
	body, err := json.Marshal(NewEvent(o))
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    o.CycleID,
		Timestamp:    o.FinishedAt,
		Type:         "transfer." + o.Status(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("投递事件失败: %w", err)
	}
	return nil
}

// Close 关闭 RabbitMQ 连接。
func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	if ch, ok := p.ch.(*amqp.Channel); ok && ch != nil {
		_ = ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
