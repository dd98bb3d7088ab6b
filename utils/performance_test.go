package utils

import (
	"testing"
)

// BenchmarkFormatting tests number formatting performance
func BenchmarkFormatting(b *testing.B) {
	testNumbers := []int64{123, 1234, 12345, 123456, 1234567, -12345678}

	b.Run("FormatChips", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			FormatChips(testNumbers[i%len(testNumbers)])
		}
	})

	b.Run("FormatRolls", func(b *testing.B) {
		rolls := []int{6, 3, 1}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			FormatRolls(rolls)
		}
	})
}

// BenchmarkEmbedCreation tests embed building and payload optimization
func BenchmarkEmbedCreation(b *testing.B) {
	b.Run("SettlementEmbed", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			OptimizeEmbedPayload(SettlementEmbed(500, "alice", 14, "bob", 9, "alice", 450, 35))
		}
	})
}
