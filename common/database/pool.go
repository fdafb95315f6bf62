package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"

	"owl-thermo/common/config"
	"owl-thermo/internal/models"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Conn 池内的一条物理连接（*sql.Conn 实现了该接口）
type Conn interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PingContext(ctx context.Context) error
	Close() error
}

// Opener 新建一条物理连接
type Opener func(ctx context.Context) (Conn, error)

// PoolStats 连接池统计
type PoolStats struct {
	PoolSize          int   `json:"pool_size"`
	ActiveConnections int   `json:"active_connections"`
	ConnectionErrors  int   `json:"connection_errors"`
	Opened            int64 `json:"opened"`
	Closed            int64 `json:"closed"`
}

// HealthStatus 连接池健康状态
type HealthStatus struct {
	Status            string `json:"status"` // healthy / warning / error
	Message           string `json:"message,omitempty"`
	PoolSize          int    `json:"pool_size"`
	ActiveConnections int    `json:"active_connections"`
}

// ConnectionPool 连接池
// 获取时优先复用空闲连接，没有则按需新建（不阻塞、不设并发上限）；
// 归还时空闲数小于 maxIdle 才保留，否则直接关闭。
type ConnectionPool struct {
	open    Opener
	dialer  *sql.DB // 仅作为拨号器使用，自身不保留空闲连接
	maxIdle int
	logger  *zap.Logger

	mu     sync.Mutex
	free   []Conn
	active int
	errors int
	opened int64
	closed int64
}

// NewConnectionPool 创建 PostgreSQL 连接池
func NewConnectionPool(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*ConnectionPool, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// 空闲连接只由 ConnectionPool 保留
	db.SetMaxIdleConns(0)
	db.SetMaxOpenConns(0)

	opener := func(ctx context.Context) (Conn, error) {
		return db.Conn(ctx)
	}
	p := NewPool(ctx, opener, cfg.MinConns, cfg.MaxIdle, logger)
	p.dialer = db
	return p, nil
}

// NewPool 使用自定义 Opener 创建连接池，预建 minConns 条连接
func NewPool(ctx context.Context, open Opener, minConns, maxIdle int, logger *zap.Logger) *ConnectionPool {
	p := &ConnectionPool{
		open:    open,
		maxIdle: maxIdle,
		logger:  logger,
	}

	logger.Info("Initializing connection pool",
		zap.Int("min_conns", minConns),
		zap.Int("max_idle", maxIdle),
	)
	for i := 0; i < minConns; i++ {
		conn, err := open(ctx)
		if err != nil {
			p.mu.Lock()
			p.errors++
			p.mu.Unlock()
			logger.Error("Failed to prefill connection pool", zap.Error(err))
			continue
		}
		p.mu.Lock()
		p.free = append(p.free, conn)
		p.opened++
		p.mu.Unlock()
	}

	logger.Info("Connection pool initialized", zap.Int("pool_size", p.Stats().PoolSize))
	return p
}

// Acquire 获取连接
func (p *ConnectionPool) Acquire(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		conn := p.free[n-1]
		p.free = p.free[:n-1]
		p.active++
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	conn, err := p.open(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.errors++
		p.logger.Error("Failed to open database connection", zap.Error(err))
		return nil, fmt.Errorf("%w: failed to open connection: %v", models.ErrStorage, err)
	}
	p.opened++
	p.active++
	return conn, nil
}

// Release 归还连接
func (p *ConnectionPool) Release(conn Conn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	p.active--
	if len(p.free) < p.maxIdle {
		p.free = append(p.free, conn)
		p.mu.Unlock()
		return
	}
	p.closed++
	p.mu.Unlock()

	if err := conn.Close(); err != nil {
		p.mu.Lock()
		p.errors++
		p.mu.Unlock()
		p.logger.Error("Failed to close surplus connection", zap.Error(err))
	}
}

// Discard 丢弃一条已损坏的连接（不回到空闲列表）
func (p *ConnectionPool) Discard(conn Conn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	p.active--
	p.closed++
	p.errors++
	p.mu.Unlock()

	// database/sql 可能已经关闭了它，这里的错误可以忽略
	_ = conn.Close()
	p.logger.Warn("Discarded broken database connection")
}

// isBadConn 连接已失效（驱动返回 ErrBadConn 或 sql.Conn 已关闭）
func isBadConn(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone)
}

// finish 根据操作结果归还或丢弃连接
func (p *ConnectionPool) finish(conn Conn, opErr error) {
	if isBadConn(opErr) {
		p.Discard(conn)
		return
	}
	p.Release(conn)
}

// WithConn 借出一条连接执行只读操作，结束后立即归还
func (p *ConnectionPool) WithConn(ctx context.Context, fn func(conn Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	var opErr error
	defer func() { p.finish(conn, opErr) }()

	if opErr = fn(conn); opErr != nil {
		return fmt.Errorf("%w: %v", models.ErrStorage, opErr)
	}
	return nil
}

// WithTx 在一条池连接上执行单个事务：fn 返回错误则回滚，否则提交
func (p *ConnectionPool) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	var opErr error
	defer func() { p.finish(conn, opErr) }()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		opErr = err
		return fmt.Errorf("%w: failed to begin transaction: %v", models.ErrStorage, err)
	}

	if err := fn(tx); err != nil {
		opErr = err
		if rbErr := tx.Rollback(); rbErr != nil {
			if isBadConn(rbErr) {
				opErr = rbErr
			}
			p.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return fmt.Errorf("%w: %v", models.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		opErr = err
		return fmt.Errorf("%w: failed to commit transaction: %v", models.ErrStorage, err)
	}
	return nil
}

// Stats 获取连接池统计信息
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		PoolSize:          len(p.free),
		ActiveConnections: p.active,
		ConnectionErrors:  p.errors,
		Opened:            p.opened,
		Closed:            p.closed,
	}
}

// HealthCheck 检查连接池健康状态（借出一条空闲连接执行 ping）
func (p *ConnectionPool) HealthCheck(ctx context.Context) HealthStatus {
	p.mu.Lock()
	if len(p.free) == 0 {
		active := p.active
		p.mu.Unlock()
		return HealthStatus{Status: "warning", Message: "connection pool is empty", ActiveConnections: active}
	}
	conn := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.mu.Unlock()

	err := conn.PingContext(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.errors++
		p.closed++
		_ = conn.Close()
		return HealthStatus{Status: "error", Message: err.Error(), PoolSize: len(p.free), ActiveConnections: p.active}
	}
	p.free = append(p.free, conn)
	return HealthStatus{Status: "healthy", PoolSize: len(p.free), ActiveConnections: p.active}
}

// Close 关闭所有空闲连接和底层拨号器
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.closed += int64(len(free))
	p.mu.Unlock()

	for _, conn := range free {
		if err := conn.Close(); err != nil {
			p.logger.Warn("Failed to close pooled connection", zap.Error(err))
		}
	}
	if p.dialer != nil {
		return p.dialer.Close()
	}
	return nil
}
