package normalize

import "testing"

func TestStripAccents(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"Élodie", "Elodie"},
		{"Béon", "Beon"},
		{"FRANÇOIS", "FRANCOIS"},
		{"Œuilly", "OEuilly"},
		{"", ""},
	}
	for _, tt := range tests {
		got := StripAccents(tt.input)
		if got != tt.want {
			t.Errorf("StripAccents(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"Alpes-de-Haute-Provence", "ALPES DE HAUTE PROVENCE"},
		{"Corse-du-Sud", "CORSE DU SUD"},
		{"Côtes-d'Armor", "COTES D ARMOR"},
		{"  Ain ", "AIN"},
	}
	for _, tt := range tests {
		got := Label(tt.input)
		if got != tt.want {
			t.Errorf("Label(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCityLabel(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"Sourd (Le)", "SOURD"},
		{"Neuville-Housset (La)", "NEUVILLE HOUSSET"},
		{"St-Sauveur", "SAINT SAUVEUR"},
		{"Ste Marie", "SAINTE MARIE"},
		{"STEENVOORDE", "STEENVOORDE"},
		{"Lyon Cedex 07", "LYON"},
		{"COLMAR CEDEX", "COLMAR"},
		{"Saint-Laurent 12 KM", "SAINT LAURENT"},
		{"Béon", "BEON"},
		{"Paris 7e", "PARIS 7E"},
		{"", ""},
	}
	for _, tt := range tests {
		got := CityLabel(tt.input)
		if got != tt.want {
			t.Errorf("CityLabel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestPostcode(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"2140", "02140"},
		{" 75007 ", "75007"},
		{"2A004", "2A004"},
		{"123", "123"},
	}
	for _, tt := range tests {
		got := Postcode(tt.input)
		if got != tt.want {
			t.Errorf("Postcode(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCacheComputesOnce(t *testing.T) {
	calls := 0
	c := NewCache(func(s string) string {
		calls++
		return CityLabel(s)
	})
	for range 3 {
		if got := c.Get("St-Sauveur"); got != "SAINT SAUVEUR" {
			t.Fatalf("Get = %q", got)
		}
	}
	if calls != 1 {
		t.Errorf("normalizer called %d times, want 1", calls)
	}
}
