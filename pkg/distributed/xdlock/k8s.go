package xdlock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

var (
	k8sNameReplaceRegex  = regexp.MustCompile(`[^a-z0-9-]`)
	k8sNameCollapseRegex = regexp.MustCompile(`-+`)
)

// DefaultClockSkew Lease 过期判定的时钟偏移容忍度。
const DefaultClockSkew = 2 * time.Second

// K8sOptions Kubernetes Lease 锁配置。
type K8sOptions struct {
	// Namespace 默认读取 POD_NAMESPACE，否则 "default"。
	Namespace string

	// Identity 实例标识，默认读取 POD_NAME，否则 hostname:pid。
	Identity string

	// Prefix Lease 名称前缀，默认 "xjobstore-"。
	Prefix string

	// Client 默认使用 InClusterConfig 创建。
	Client kubernetes.Interface

	// ClockSkew 0 使用 [DefaultClockSkew]，负值表示禁用。
	ClockSkew time.Duration

	// Clock 默认真实时钟。
	Clock clockwork.Clock
}

// k8sLocker 基于 coordination.k8s.io/v1 Lease 的 Locker。
type k8sLocker struct {
	client    kubernetes.Interface
	namespace string
	identity  string
	prefix    string
	clockSkew time.Duration
	clock     clockwork.Clock
	closed    atomic.Bool
}

// NewK8sLocker 创建 Lease 锁。
// ServiceAccount 需要 Lease 资源的 get/create/update 权限。
func NewK8sLocker(opts K8sOptions) (Locker, error) {
	if opts.Namespace == "" {
		opts.Namespace = getEnvOrDefault("POD_NAMESPACE", "default")
	}
	if opts.Identity == "" {
		opts.Identity = getEnvOrDefault("POD_NAME", defaultIdentity())
	}
	if opts.Prefix == "" {
		opts.Prefix = "xjobstore-"
	}
	if opts.ClockSkew == 0 {
		opts.ClockSkew = DefaultClockSkew
	} else if opts.ClockSkew < 0 {
		opts.ClockSkew = 0
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	client := opts.Client
	if client == nil {
		config, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("xdlock: failed to get in-cluster config: %w", err)
		}
		client, err = kubernetes.NewForConfig(config)
		if err != nil {
			return nil, fmt.Errorf("xdlock: failed to create k8s client: %w", err)
		}
	}

	return &k8sLocker{
		client:    client,
		namespace: opts.Namespace,
		identity:  opts.Identity,
		prefix:    opts.Prefix,
		clockSkew: opts.ClockSkew,
		clock:     opts.Clock,
	}, nil
}

var _ Locker = (*k8sLocker)(nil)

func (l *k8sLocker) TryLock(ctx context.Context, key string, lease time.Duration) (LockHandle, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := validateLease(lease); err != nil {
		return nil, err
	}

	name := l.leaseName(key)
	token := l.identity + ":" + uuid.NewString()
	seconds := leaseSeconds(lease)
	now := metav1.NewMicroTime(l.clock.Now())

	existing, err := l.client.CoordinationV1().Leases(l.namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return l.createLease(ctx, key, name, token, seconds, now)
	}
	if err != nil {
		return nil, fmt.Errorf("xdlock: failed to get lease: %w", err)
	}
	if !l.canAcquire(existing) {
		return nil, nil
	}

	existing.Spec.HolderIdentity = &token
	existing.Spec.LeaseDurationSeconds = &seconds
	existing.Spec.AcquireTime = &now
	existing.Spec.RenewTime = &now
	if _, err := l.client.CoordinationV1().Leases(l.namespace).Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("xdlock: failed to acquire lease: %w", err)
	}
	return &k8sHandle{locker: l, key: key, leaseName: name, token: token, seconds: seconds}, nil
}

func (l *k8sLocker) createLease(ctx context.Context, key, name, token string, seconds int32, now metav1.MicroTime) (LockHandle, error) {
	lease := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: l.namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "xjobstore",
			},
		},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &token,
			LeaseDurationSeconds: &seconds,
			AcquireTime:          &now,
			RenewTime:            &now,
		},
	}
	if _, err := l.client.CoordinationV1().Leases(l.namespace).Create(ctx, lease, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("xdlock: failed to create lease: %w", err)
	}
	return &k8sHandle{locker: l, key: key, leaseName: name, token: token, seconds: seconds}, nil
}

// canAcquire 无持有者或已过期时可获取。自己的 token 也不允许重入。
func (l *k8sLocker) canAcquire(lease *coordinationv1.Lease) bool {
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return true
	}
	return l.isLeaseExpired(lease)
}

// isLeaseExpired 过期时间 = renewTime + duration + clockSkew。
func (l *k8sLocker) isLeaseExpired(lease *coordinationv1.Lease) bool {
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return true
	}
	d := time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second
	return l.clock.Now().After(lease.Spec.RenewTime.Add(d + l.clockSkew))
}

func (l *k8sLocker) Health(ctx context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}
	_, err := l.client.CoordinationV1().Leases(l.namespace).List(ctx, metav1.ListOptions{Limit: 1})
	return err
}

func (l *k8sLocker) Close(context.Context) error {
	l.closed.Store(true)
	return nil
}

func (l *k8sLocker) leaseName(key string) string {
	return l.prefix + sanitizeK8sName(key, len(l.prefix))
}

type k8sHandle struct {
	locker    *k8sLocker
	key       string
	leaseName string
	token     string
	seconds   int32
}

func (h *k8sHandle) get(ctx context.Context) (*coordinationv1.Lease, error) {
	lease, err := h.locker.client.CoordinationV1().Leases(h.locker.namespace).Get(ctx, h.leaseName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, ErrNotLocked
	}
	if err != nil {
		return nil, fmt.Errorf("xdlock: failed to get lease: %w", err)
	}
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != h.token {
		return nil, ErrNotLocked
	}
	return lease, nil
}

// Unlock 清除持有者，允许他人获取。
func (h *k8sHandle) Unlock(ctx context.Context) error {
	lease, err := h.get(ctx)
	if err != nil {
		return err
	}
	lease.Spec.HolderIdentity = nil
	lease.Spec.AcquireTime = nil
	lease.Spec.RenewTime = nil

	if _, err := h.locker.client.CoordinationV1().Leases(h.locker.namespace).Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) {
			return ErrNotLocked
		}
		return fmt.Errorf("xdlock: failed to release lease: %w", err)
	}
	return nil
}

// Extend 刷新 renewTime。
func (h *k8sHandle) Extend(ctx context.Context) error {
	lease, err := h.get(ctx)
	if err != nil {
		if err == ErrNotLocked {
			return err
		}
		return fmt.Errorf("%w: %w", ErrExtendFailed, err)
	}
	now := metav1.NewMicroTime(h.locker.clock.Now())
	lease.Spec.RenewTime = &now
	lease.Spec.LeaseDurationSeconds = &h.seconds

	if _, err := h.locker.client.CoordinationV1().Leases(h.locker.namespace).Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) {
			return ErrNotLocked
		}
		return fmt.Errorf("%w: %w", ErrExtendFailed, err)
	}
	return nil
}

func (h *k8sHandle) Key() string {
	return h.key
}

// leaseSeconds 向上取整，保证 Lease 不短于请求的租约。
func leaseSeconds(d time.Duration) int32 {
	s := math.Ceil(d.Seconds())
	if s < 1 {
		return 1
	}
	if s > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(s)
}

// sanitizeK8sName 转换为合法的 K8s 资源名（不含 prefix）。
// 名称被改写或超长时追加原始名称的 hash 后缀，避免 "a.b" 与 "a/b" 碰撞。
func sanitizeK8sName(name string, prefixLen int) string {
	if name == "" {
		return ""
	}
	lowered := strings.ToLower(name)
	sanitized := k8sNameReplaceRegex.ReplaceAllString(lowered, "-")
	sanitized = k8sNameCollapseRegex.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")

	const k8sMaxLen = 63
	const hashLen = 8
	maxLen := max(k8sMaxLen-prefixLen, 1)

	if sanitized == lowered && len(sanitized) <= maxLen {
		return sanitized
	}

	sum := sha256.Sum256([]byte(name))
	suffix := hex.EncodeToString(sum[:])[:hashLen]
	keep := max(maxLen-1-hashLen, 1)
	if len(sanitized) > keep {
		sanitized = strings.TrimRight(sanitized[:keep], "-")
	}
	return sanitized + "-" + suffix
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
