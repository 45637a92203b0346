package featureflag

import "unicode/utf16"

// AnonymousIdentity 空标识的分桶替代值
const AnonymousIdentity = "anonymous"

// Hash 按 UTF-16 码元计算的 31 倍乘法字符串哈希，结果为 32 位有符号整数
// 与已有用户的分桶结果保持一致，不可替换为其它哈希
func Hash(s string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	return h
}

// Bucket 计算 identity 在指定开关下的分桶，取值 1-100
func Bucket(identity, key string) int {
	if identity == "" {
		identity = AnonymousIdentity
	}
	h := int64(Hash(identity + key))
	if h < 0 {
		h = -h
	}
	return int(h%100) + 1
}
