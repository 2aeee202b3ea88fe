package ledger

import "testing"

func TestArchimedeanSpiralHasPositiveComplexity(t *testing.T) {
	s := NewArchimedeanSpiral(1.0, 0.5, 3)
	if len(s.points) == 0 {
		t.Fatal("expected non-empty point set")
	}
	if s.Metadata.Complexity <= 0 {
		t.Fatalf("complexity = %f, want > 0", s.Metadata.Complexity)
	}
}

func TestFibonacciSpiralVariant(t *testing.T) {
	s := NewFibonacciSpiral(1000)
	if len(s.points) == 0 {
		t.Fatal("expected non-empty point set")
	}
	if s.Variant != SpiralFibonacci {
		t.Fatalf("variant = %v, want Fibonacci", s.Variant)
	}
}

func TestSpiralDistanceToSelfIsSmall(t *testing.T) {
	s1 := NewArchimedeanSpiral(1.0, 0.5, 2)
	s2 := NewArchimedeanSpiral(1.0, 0.5, 2)
	if d := s1.DistanceTo(s2); d > 0.1 {
		t.Fatalf("distance = %f, want < 0.1", d)
	}
}

func TestOverallScoreWeighting(t *testing.T) {
	m := SpiralMetadata{
		Complexity:         100,
		SelfSimilarity:     1,
		InformationDensity: 1,
		SemanticCoherence:  1,
	}
	want := 0.3*100 + 0.2*1 + 0.2*1 + 0.3*1
	if got := m.OverallScore(); got != want {
		t.Fatalf("OverallScore() = %f, want %f", got, want)
	}
}

func TestSpiralMetadataHashDeterministic(t *testing.T) {
	m := SpiralMetadata{Variant: SpiralRamanujan, Complexity: 100, SemanticCoherence: 1}
	if m.Hash() != m.Hash() {
		t.Fatal("hashing the same metadata twice produced different hashes")
	}
}
