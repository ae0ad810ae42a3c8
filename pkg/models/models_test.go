package models

import "testing"

func TestUpdateStatusNotifiesOnlyOnChange(t *testing.T) {
	p := &Printer{UUID: "p1", Status: PrinterStatusIdle}

	var changes []Change
	p.OnChange(func(c Change) { changes = append(changes, c) })

	if !p.UpdateStatus(PrinterStatusPrinting) {
		t.Error("UpdateStatus() = false for a new value, want true")
	}
	if p.UpdateStatus(PrinterStatusPrinting) {
		t.Error("UpdateStatus() = true for the same value, want false")
	}
	if len(changes) != 1 {
		t.Fatalf("got %d change notifications, want 1", len(changes))
	}
	if changes[0].Field != "status" || changes[0].New != PrinterStatusPrinting {
		t.Errorf("change = %+v, want status -> printing", changes[0])
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	p := &Printer{UUID: "p1"}
	var count int
	unsub := p.OnChange(func(Change) { count++ })

	p.UpdateFriendlyName("one")
	unsub()
	p.UpdateFriendlyName("two")

	if count != 1 {
		t.Errorf("observer called %d times after unsubscribe, want 1", count)
	}
}

func TestUpdateActivePrintJobMovesBothReferences(t *testing.T) {
	p1 := &Printer{UUID: "p1"}
	p2 := &Printer{UUID: "p2"}
	job := &PrintJob{UUID: "j1"}

	p1.UpdateActivePrintJob(job)
	if p1.ActivePrintJob() != job || job.AssignedPrinter() != p1 {
		t.Fatal("job/printer references not linked after UpdateActivePrintJob")
	}

	// Moving the job to another printer must clear the old printer's side.
	p2.UpdateActivePrintJob(job)
	if p1.ActivePrintJob() != nil {
		t.Error("previous printer still references the job")
	}
	if p2.ActivePrintJob() != job || job.AssignedPrinter() != p2 {
		t.Error("job not linked to its new printer")
	}

	// Clearing nulls the back-reference too.
	p2.UpdateActivePrintJob(nil)
	if job.AssignedPrinter() != nil {
		t.Error("job still references a printer after clear")
	}
}

func TestProgressClamped(t *testing.T) {
	tests := []struct {
		name            string
		total, elapsed  int
		want            float64
	}{
		{"halfway", 100, 50, 0.5},
		{"overrun clamps to 1", 100, 150, 1},
		{"zero total treated as 1", 0, 0, 0},
		{"zero total with elapsed clamps", 0, 5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &PrintJob{TimeTotal: tt.total, TimeElapsed: tt.elapsed}
			if got := j.Progress(); got != tt.want {
				t.Errorf("Progress() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInQueueAndActive(t *testing.T) {
	queued := &PrintJob{Status: PrintJobStatusQueued}
	errored := &PrintJob{Status: PrintJobStatusError}
	printing := &PrintJob{Status: PrintJobStatusPrinting, PrinterUUID: "p1"}

	if !queued.InQueue() || !errored.InQueue() {
		t.Error("queued/error jobs should report InQueue")
	}
	if queued.Active() {
		t.Error("queued job should not be Active")
	}
	if !printing.Active() {
		t.Error("printing job with a printer uuid should be Active")
	}
}

func TestConfigurationChangeCanOverride(t *testing.T) {
	if (ConfigurationChange{TypeOfChange: ChangeMaterialInsert}).CanOverride() {
		t.Error("material_insert should not be overridable")
	}
	if (ConfigurationChange{TypeOfChange: ChangeBuildPlate}).CanOverride() {
		t.Error("buildplate_change should not be overridable")
	}
	if !(ConfigurationChange{TypeOfChange: ChangeMaterial}).CanOverride() {
		t.Error("material change should be overridable")
	}
	if !(ConfigurationChange{TypeOfChange: ChangePrintCore}).CanOverride() {
		t.Error("print core change should be overridable")
	}
}

func TestClusterSupportsQueue(t *testing.T) {
	legacy := &Cluster{}
	if !legacy.SupportsQueue() {
		t.Error("cluster with no capability set should support queue")
	}

	with := &Cluster{Capabilities: []string{"queue", "camera"}}
	if !with.SupportsQueue() {
		t.Error("cluster advertising queue should support queue")
	}

	without := &Cluster{Capabilities: []string{"camera"}}
	if without.SupportsQueue() {
		t.Error("cluster omitting queue from capabilities should not support queue")
	}
}

func TestMaterialEqualsByGUID(t *testing.T) {
	a := &ConfigurationMaterial{GUID: "g", Brand: "X"}
	b := &ConfigurationMaterial{GUID: "g", Brand: "Y"}
	c := &ConfigurationMaterial{GUID: "other"}

	if !a.Equals(b) {
		t.Error("materials with equal GUIDs should be equal")
	}
	if a.Equals(c) {
		t.Error("materials with different GUIDs should not be equal")
	}
	var nilMat *ConfigurationMaterial
	if nilMat.Equals(a) || a.Equals(nilMat) {
		t.Error("nil material should equal only nil")
	}
}

func TestCameraURL(t *testing.T) {
	p := &Printer{IPAddress: "192.168.1.10"}
	want := "http://192.168.1.10:8080/?action=stream"
	if got := p.CameraURL(); got != want {
		t.Errorf("CameraURL() = %q, want %q", got, want)
	}
	if got := (&Printer{}).CameraURL(); got != "" {
		t.Errorf("CameraURL() without IP = %q, want empty", got)
	}
}
