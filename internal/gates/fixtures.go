package gates

// Fixture is one unit-gate case: known input, required output. The built-in
// fixtures pin the baseline noise classes; a candidate rule set that breaks
// them never reaches the later gates.
type Fixture struct {
	Name     string
	Input    string
	Expected string
}

func defaultFixtures() []Fixture {
	return []Fixture{
		{
			Name:     "page_number_line_removed",
			Input:    "본문 내용\n페이지 3\n다음 단락",
			Expected: "본문 내용\n다음 단락",
		},
		{
			Name:     "separator_run_removed",
			Input:    "첫 단락\n==========\n둘째 단락",
			Expected: "첫 단락\n\n둘째 단락",
		},
		{
			Name:     "space_runs_collapsed",
			Input:    "판결   이유는    다음과 같다",
			Expected: "판결 이유는 다음과 같다",
		},
		{
			Name:     "blank_line_runs_collapsed",
			Input:    "가. 첫째 주장\n\n\n\n나. 둘째 주장",
			Expected: "가. 첫째 주장\n\n나. 둘째 주장",
		},
		{
			Name:     "legal_content_untouched",
			Input:    "피고인은 2019. 3. 5. 피해자를 폭행하여 약 2주간의 치료가 필요한 상해를 가하였다.",
			Expected: "피고인은 2019. 3. 5. 피해자를 폭행하여 약 2주간의 치료가 필요한 상해를 가하였다.",
		},
		{
			Name:     "page_number_and_whitespace_combined",
			Input:    "내용\n페이지 1\n더 많은    공백",
			Expected: "내용\n더 많은 공백",
		},
	}
}
