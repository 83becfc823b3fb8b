package service

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/argon2"
)

// argon2id 参数。盐固定，摘要对相同输入确定，才能按摘要比较。
const (
	argonTime    = 2
	argonMemory  = 19 * 1024 // KiB
	argonThreads = 1
	argonKeyLen  = 32

	// digestHexLen 是密码摘要的固定长度 (32 字节的十六进制表示)。
	digestHexLen = argonKeyLen * 2

	serviceSalt = "party-rooms/room-password/v1"
)

// CredentialGuard 负责房间密码的哈希和常量时间比较。
// 任何方法都不记录明文或完整摘要。
type CredentialGuard struct {
	salt []byte
}

// NewCredentialGuard 创建 CredentialGuard。pepper 非空时拼接到服务盐之后，
// 不同部署之间的摘要因此互不通用。
func NewCredentialGuard(pepper string) *CredentialGuard {
	return &CredentialGuard{salt: []byte(serviceSalt + pepper)}
}

// HashPassword 用 argon2id 派生 64 位十六进制的单向摘要，对相同输入结果确定。
func (g *CredentialGuard) HashPassword(plaintext string) string {
	key := argon2.IDKey([]byte(plaintext), g.salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return hex.EncodeToString(key)
}

// CompareHash 以常量时间比较两个摘要。
// 两边都复制进固定长度、零填充的缓冲区，长度不一致并入结果而不是提前返回。
func CompareHash(provided, stored string) bool {
	var a, b [digestHexLen]byte
	copy(a[:], provided)
	copy(b[:], stored)
	sameBytes := subtle.ConstantTimeCompare(a[:], b[:])
	sameLen := subtle.ConstantTimeEq(int32(len(provided)), int32(len(stored)))
	inRange := subtle.ConstantTimeLessOrEq(len(stored), digestHexLen)
	return sameBytes&sameLen&inRange == 1
}

// VerifyPassword 校验明文密码是否与存储的摘要匹配。
func (g *CredentialGuard) VerifyPassword(plaintext, storedHash string) bool {
	return CompareHash(g.HashPassword(plaintext), storedHash)
}

// VerifySecret 校验特权接口的请求头密钥。
// 未配置密钥时由 devFallbackAllowed 决定 (生产环境必须为 false)；
// 否则先对两边做 SHA-256，使任意长度的密钥走与 CompareHash 相同的定长比较路径。
func VerifySecret(headerValue, expectedSecret string, devFallbackAllowed bool) bool {
	if expectedSecret == "" {
		return devFallbackAllowed
	}
	provided := sha256.Sum256([]byte(headerValue))
	expected := sha256.Sum256([]byte(expectedSecret))
	return CompareHash(hex.EncodeToString(provided[:]), hex.EncodeToString(expected[:]))
}
