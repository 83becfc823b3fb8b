package service

import (
	"crypto/rand"
	"fmt"
	"io"
	mrand "math/rand"
	"regexp"

	"github.com/sirupsen/logrus"
)

const (
	slugAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	slugLength   = 8 // 36^8 ≈ 2^41
	// 256 以下最大的 36 的倍数，超过的字节丢弃以避免取模偏差
	slugByteCeiling = 252
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]{1,20}$`)

// ValidateSlug 校验来自不可信输入 (路由参数) 的 slug，必须在访问存储之前调用。
func ValidateSlug(candidate string) error {
	if !slugPattern.MatchString(candidate) {
		return ErrInvalidSlug
	}
	return nil
}

// SlugGenerator 生成 8 位小写字母数字的房间 slug。
// 不保证唯一，唯一性由存储层的唯一约束保证，调用方冲突时重试。
type SlugGenerator struct {
	source io.Reader
	log    *logrus.Entry
}

// NewSlugGenerator 创建使用 crypto/rand 的生成器。
func NewSlugGenerator() *SlugGenerator {
	return NewSlugGeneratorWithSource(rand.Reader)
}

// NewSlugGeneratorWithSource 使用指定的随机源，主要用于测试。
func NewSlugGeneratorWithSource(source io.Reader) *SlugGenerator {
	if source == nil {
		panic("random source cannot be nil for SlugGenerator")
	}
	return &SlugGenerator{
		source: source,
		log:    logrus.WithField("component", "slug_generator"),
	}
}

// Generate 返回一个新的 slug。
// 安全随机源不可用时退化为非加密随机数，并记录告警日志。
func (g *SlugGenerator) Generate() string {
	slug, err := g.generateSecure()
	if err == nil {
		return slug
	}
	g.log.WithError(err).Warn("Secure random source unavailable, falling back to non-cryptographic slug generation")
	return generateFallback()
}

func (g *SlugGenerator) generateSecure() (string, error) {
	out := make([]byte, 0, slugLength)
	buf := make([]byte, slugLength*2)
	for len(out) < slugLength {
		if _, err := io.ReadFull(g.source, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= slugByteCeiling {
				continue
			}
			out = append(out, slugAlphabet[int(b)%len(slugAlphabet)])
			if len(out) == slugLength {
				break
			}
		}
	}
	return string(out), nil
}

func generateFallback() string {
	out := make([]byte, slugLength)
	for i := range out {
		out[i] = slugAlphabet[mrand.Intn(len(slugAlphabet))]
	}
	return string(out)
}
