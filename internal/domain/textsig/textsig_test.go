package textsig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testTable() KeywordTable {
	return KeywordTable{
		"visaCal":  {"כ.א.ל", "cal", "ויזה כאל", "visa cal"},
		"max":      {"מקס", "max"},
		"isracard": {"ישראכרט", "isracard"},
	}
}

func TestContainsVendor_CaseInsensitive(t *testing.T) {
	table := testTable()

	assert.True(t, table.ContainsVendor("VISA CAL 1456", "visaCal"))
	assert.True(t, table.ContainsVendor("חיוב מקס חודשי", "max"))
	assert.False(t, table.ContainsVendor("bank transfer", "visaCal"))
}

func TestContainsVendor_EmptyInputs(t *testing.T) {
	table := testTable()

	assert.False(t, table.ContainsVendor("", "visaCal"))
	assert.False(t, table.ContainsVendor("cal", ""))
	assert.False(t, table.ContainsVendor("cal", "unknownVendor"))
}

func TestDetectVendor_SortedVendorOrder(t *testing.T) {
	table := testTable()

	// "isracard" sorts before "max" and "visaCal".
	vendor, ok := table.DetectVendor("isracard and cal in one line")
	assert.True(t, ok)
	assert.Equal(t, "isracard", vendor)

	_, ok = table.DetectVendor("plain groceries")
	assert.False(t, ok)
}

func TestDigitGroups_LongRunsYieldTrailingFour(t *testing.T) {
	groups := DigitGroups("העברה לחשבון 0162490242 כרטיס 1456")

	assert.Equal(t, []string{"0162490242", "0242", "1456"}, groups)
}

func TestDigitGroups_EmptyText(t *testing.T) {
	assert.Nil(t, DigitGroups(""))
	assert.Nil(t, DigitGroups("no digits here"))
	assert.Nil(t, DigitGroups("123")) // shorter than 4 digits
}

func TestLastDigitGroup_PicksLastOccurrence(t *testing.T) {
	assert.Equal(t, "1456", LastDigitGroup("card 9876 then 1456"))
	assert.Equal(t, "", LastDigitGroup("nothing numeric"))
}

func TestAccountLast4(t *testing.T) {
	assert.Equal(t, "1456", AccountLast4("00001456"))
	assert.Equal(t, "1456", AccountLast4("1456"))
	assert.Equal(t, "12", AccountLast4("  12  "))
	assert.Equal(t, "", AccountLast4("   "))
	assert.Equal(t, "", AccountLast4(""))
}
